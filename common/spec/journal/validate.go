package journal

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "kokoro://journal/analysis.schema.json"

// ErrInvalidAnalysis is wrapped by every DecodeAnalysis failure.
var ErrInvalidAnalysis = errors.New("journal: invalid analysis")

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Schema returns a copy of the Analysis JSON Schema, suitable for a
// provider's structured-output or tool-input field.
func Schema() json.RawMessage {
	return append(json.RawMessage(nil), schemaJSON...)
}

func analysisSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("journal: add schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("journal: compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// DecodeAnalysis validates raw provider output against the Analysis schema
// and maps it into an Analysis. Keys outside the schema are dropped. Labels
// are trimmed, blank labels dropped and
// exact duplicates removed; if that leaves a list empty, or the summary is
// blank, the output is rejected.
func DecodeAnalysis(raw []byte) (*Analysis, error) {
	sch, err := analysisSchema()
	if err != nil {
		return nil, err
	}

	// The raw output may echo the entry, so only its length goes into errors.
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: not JSON (%d bytes)", ErrInvalidAnalysis, len(raw))
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnalysis, err)
	}

	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: decode analysis", ErrInvalidAnalysis)
	}
	a.Emotions = cleanLabels(a.Emotions)
	a.Topics = cleanLabels(a.Topics)
	a.Summary = strings.TrimSpace(a.Summary)

	if err := Validate(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks the hard invariants of an Analysis: both label lists are
// non-empty and contain no blank labels, and the summary is not blank.
func Validate(a *Analysis) error {
	if a == nil {
		return fmt.Errorf("%w: analysis must not be nil", ErrInvalidAnalysis)
	}
	if err := validateLabels("emotions", a.Emotions); err != nil {
		return err
	}
	if err := validateLabels("topics", a.Topics); err != nil {
		return err
	}
	if strings.TrimSpace(a.Summary) == "" {
		return fmt.Errorf("%w: summary must not be empty", ErrInvalidAnalysis)
	}
	return nil
}

func validateLabels(field string, labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidAnalysis, field)
	}
	for i, l := range labels {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("%w: %s[%d] is blank", ErrInvalidAnalysis, field, i)
		}
	}
	return nil
}

func cleanLabels(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
