// Kokoro turns journal entries into a structured analysis and an embedding.
//
// Usage:
//
//	kokoro [-config kokoro.yaml] <command> [flags] [text]
//
// Commands:
//
//	enrich   summarise an entry and embed the chosen text
//	         (-batch: one entry per line, pipeline.concurrency in parallel)
//	analyse  summarise an entry only
//	embed    embed a piece of text only
//	list     print archived enrichments, newest first
//	serve    run the HTTP API
//	version  print build information
//
// Entry text is taken from the remaining arguments, from -f FILE, or from
// stdin. A .env file in the working directory is loaded if present.
//
// Environment variables:
//
//	ANTHROPIC_API_KEY  - key for the Anthropic summariser (default backend)
//	OPENAI_API_KEY     - key for the embedder and the OpenAI summariser
//	KOKORO_CONFIG      - path to the YAML config (same as -config)
//	KOKORO_ARCHIVE_KEY - optional hex AES-256 key sealing archived text
//	KOKORO_*           - per-field overrides, see internal/kokoro/config
//	LOG_LEVEL          - "debug", "info", "warn", "error" (default: "info")
//	LOG_FORMAT         - "text" or "json" (default: "text")
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bdobrica/Kokoro/common/environment"
	"github.com/bdobrica/Kokoro/common/spec/journal"
	"github.com/bdobrica/Kokoro/common/version"
	"github.com/bdobrica/Kokoro/internal/kokoro/app"
	"github.com/bdobrica/Kokoro/internal/kokoro/config"
	"github.com/bdobrica/Kokoro/internal/kokoro/observability"
	"github.com/bdobrica/Kokoro/internal/kokoro/pipeline"
)

const usage = `usage: kokoro [-config FILE] <command> [flags] [text]

commands:
  enrich   summarise an entry and embed the chosen text
  analyse  summarise an entry only
  embed    embed a piece of text only
  list     print archived enrichments, newest first
  serve    run the HTTP API
  version  print build information
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("kokoro", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", environment.StringOr(config.EnvConfigPath, ""), "path to the YAML config file")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	if cmd == "version" {
		fmt.Fprintf(stdout, "kokoro %s\n", version.Info())
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := observability.Setup(cfg.Log.Level, cfg.Log.Format)

	c := &cli{cfg: cfg, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}
	switch cmd {
	case "enrich":
		err = c.enrich(ctx, rest)
	case "analyse", "analyze":
		err = c.analyse(ctx, rest)
	case "embed":
		err = c.embed(ctx, rest)
	case "list":
		err = c.list(ctx, rest)
	case "serve":
		err = c.serve(ctx, rest)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	var ue usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ue):
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// usageError is returned after a flag set has already reported the problem.
type usageError struct{ error }

type cli struct {
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// enrichOutput is what "enrich" prints. The vector is included only with
// -vector; its length is always reported.
type enrichOutput struct {
	ID              string              `json:"id"`
	TraceID         string              `json:"trace_id"`
	Analysis        journal.Analysis    `json:"analysis"`
	EmbedSource     journal.EmbedSource `json:"embed_source"`
	Dimensions      int                 `json:"dimensions"`
	SummariserModel string              `json:"summariser_model"`
	EmbeddingModel  string              `json:"embedding_model"`
	CreatedAt       time.Time           `json:"created_at"`
	Archived        bool                `json:"archived"`
	Vector          journal.Vector      `json:"vector,omitempty"`
}

func (c *cli) enrich(ctx context.Context, args []string) error {
	fs := c.flagSet("enrich")
	file := fs.String("f", "", "read the entry from FILE (\"-\" for stdin)")
	withVector := fs.Bool("vector", false, "include the full vector in the output")
	save := fs.Bool("save", false, "archive the result (overrides archive.enabled)")
	source := fs.String("source", "", "embed source: summary, entry or summary_topics")
	batch := fs.Bool("batch", false, "treat each non-blank input line as a separate entry")
	concurrency := fs.Int("concurrency", c.cfg.Pipeline.Concurrency, "entries enriched in parallel with -batch")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	if *concurrency < 1 {
		fmt.Fprintln(c.stderr, "-concurrency must be at least 1")
		return usageError{fmt.Errorf("invalid -concurrency %d", *concurrency)}
	}

	if *save {
		c.cfg.Archive.Enabled = true
	}
	if *source != "" {
		c.cfg.Pipeline.EmbedSource = journal.EmbedSource(*source)
	}

	text, err := readText(fs.Args(), *file, c.stdin)
	if err != nil {
		return err
	}

	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !*batch {
		e, err := a.Enricher.Enrich(ctx, text)
		archiveErr := errors.Is(err, pipeline.ErrArchive)
		if err != nil && !archiveErr {
			return err
		}
		if perr := c.print(newEnrichOutput(e, a.Store != nil && !archiveErr, *withVector)); perr != nil {
			return perr
		}
		// The result is printed before reporting the archive failure.
		return err
	}

	entries := splitEntries(text)
	if len(entries) == 0 {
		return fmt.Errorf("no entries to enrich")
	}
	results, err := a.Enricher.EnrichAll(ctx, entries, *concurrency)
	archiveErr := errors.Is(err, pipeline.ErrArchive)
	if err != nil && !archiveErr {
		return err
	}
	out := make([]enrichOutput, 0, len(results))
	for _, e := range results {
		if e != nil {
			out = append(out, newEnrichOutput(e, a.Store != nil && !archiveErr, *withVector))
		}
	}
	if perr := c.print(out); perr != nil {
		return perr
	}
	return err
}

func newEnrichOutput(e *journal.Enrichment, archived, withVector bool) enrichOutput {
	out := enrichOutput{
		ID:              e.ID,
		TraceID:         e.TraceID,
		Analysis:        e.Analysis,
		EmbedSource:     e.EmbedSource,
		Dimensions:      e.Dimensions(),
		SummariserModel: e.SummariserModel,
		EmbeddingModel:  e.EmbeddingModel,
		CreatedAt:       e.CreatedAt,
		Archived:        archived,
	}
	if withVector {
		out.Vector = e.Vector
	}
	return out
}

// splitEntries returns the non-blank lines of text, trimmed.
func splitEntries(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (c *cli) analyse(ctx context.Context, args []string) error {
	fs := c.flagSet("analyse")
	file := fs.String("f", "", "read the entry from FILE (\"-\" for stdin)")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	entry, err := readText(fs.Args(), *file, c.stdin)
	if err != nil {
		return err
	}

	c.cfg.Archive.Enabled = false
	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	analysis, err := a.Enricher.Analyse(ctx, entry)
	if err != nil {
		return err
	}
	return c.print(analysis)
}

func (c *cli) embed(ctx context.Context, args []string) error {
	fs := c.flagSet("embed")
	file := fs.String("f", "", "read the text from FILE (\"-\" for stdin)")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	text, err := readText(fs.Args(), *file, c.stdin)
	if err != nil {
		return err
	}

	c.cfg.Archive.Enabled = false
	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	vec, err := a.Embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	return c.print(struct {
		Model      string         `json:"model"`
		Dimensions int            `json:"dimensions"`
		Vector     journal.Vector `json:"vector"`
	}{a.Embedder.Model(), len(vec), vec})
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := c.flagSet("list")
	limit := fs.Int("n", 20, "number of enrichments to show")
	withVector := fs.Bool("vector", false, "include vectors in the output")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}

	c.cfg.Archive.Enabled = true
	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Store.ListEnrichments(ctx, *limit)
	if err != nil {
		return err
	}
	if !*withVector {
		for _, e := range list {
			e.Vector = nil
		}
	}
	if list == nil {
		list = []*journal.Enrichment{}
	}
	return c.print(list)
}

func (c *cli) serve(ctx context.Context, args []string) error {
	fs := c.flagSet("serve")
	addr := fs.String("addr", c.cfg.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	c.cfg.Server.Addr = *addr

	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(ctx)
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readText returns the text to process: the joined arguments, the contents
// of file ("-" means stdin), or stdin when neither is given.
func readText(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("give the text either as arguments or with -f, not both")
	case file == "-":
		return readAll(stdin)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		return readAll(stdin)
	}
}

func readAll(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
