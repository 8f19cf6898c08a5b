// Package journal defines the values that flow through an enrichment: the
// structured Analysis a language model produces for an entry, the embedding
// Vector, and the Enrichment record that ties them together.
//
// The Analysis shape is declared once, as a JSON Schema embedded in this
// package. The same document is sent to providers as the requested output
// format and used by DecodeAnalysis to check what comes back.
package journal

import (
	"fmt"
	"time"
)

// Soft bounds for emotions and topics. Providers are asked for this range
// but only an empty list is rejected; see Analysis.Warnings.
const (
	MinLabels = 3
	MaxLabels = 5
)

// Analysis is the structured reading of one journal entry.
type Analysis struct {
	// Emotions are short labels such as "anxiety" or "loneliness", in the
	// order the model ranked them.
	Emotions []string `json:"emotions" yaml:"emotions"`

	// Topics are short snake_case labels such as "academic_pressure".
	Topics []string `json:"topics" yaml:"topics"`

	// Summary is one impersonal sentence describing the core problem. It is
	// meant to carry no identifying details, but that is a request to the
	// model, not something that can be checked here.
	Summary string `json:"summary" yaml:"summary"`
}

// Warnings lists soft-contract violations: label counts outside
// [MinLabels, MaxLabels]. An empty result means the analysis is within the
// requested shape.
func (a *Analysis) Warnings() []string {
	var out []string
	check := func(field string, n int) {
		if n < MinLabels || n > MaxLabels {
			out = append(out, fmt.Sprintf("%s: got %d labels, want %d-%d", field, n, MinLabels, MaxLabels))
		}
	}
	check("emotions", len(a.Emotions))
	check("topics", len(a.Topics))
	return out
}

// Vector is an embedding. Its length is fixed by the embedding model
// (1536 for text-embedding-3-small); it is not normalised.
type Vector []float32

// EmbedSource selects which text of an enrichment is embedded.
type EmbedSource string

const (
	// EmbedSummary embeds Analysis.Summary. This is the default: the summary
	// is the non-identifying text intended for similarity matching.
	EmbedSummary EmbedSource = "summary"

	// EmbedEntry embeds the raw entry.
	EmbedEntry EmbedSource = "entry"

	// EmbedSummaryTopics embeds the summary followed by a "Topics:" line.
	EmbedSummaryTopics EmbedSource = "summary_topics"
)

// Valid reports whether s is one of the known sources.
func (s EmbedSource) Valid() bool {
	switch s {
	case EmbedSummary, EmbedEntry, EmbedSummaryTopics:
		return true
	}
	return false
}

// Enrichment is the result of running one entry through the pipeline.
// The raw entry is deliberately not part of it.
type Enrichment struct {
	ID              string      `json:"id"`
	TraceID         string      `json:"trace_id,omitempty"`
	Analysis        Analysis    `json:"analysis"`
	Vector          Vector      `json:"vector,omitempty"`
	EmbedSource     EmbedSource `json:"embed_source"`
	SummariserModel string      `json:"summariser_model,omitempty"`
	EmbeddingModel  string      `json:"embedding_model,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Dimensions returns len(Vector).
func (e *Enrichment) Dimensions() int {
	return len(e.Vector)
}
