/**
 * extractctl - CLI for the PDF field extraction pipeline.
 *
 * Subcommands:
 *   extract <pdf> <label> <schema.json>   run a single extraction
 *   batch <manifest.json> <out-dir>       run a batch dataset
 *   stats                                  print aggregate pipeline stats
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/pdfextract/internal/batch"
	"github.com/adverant/pdfextract/internal/cache"
	"github.com/adverant/pdfextract/internal/config"
	"github.com/adverant/pdfextract/internal/llmclient"
	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/orchestrator"
	"github.com/adverant/pdfextract/internal/parser"
	"github.com/adverant/pdfextract/internal/template"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: .env not found, using system environment variables")
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewLogger("extractctl")

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, cancelling in-flight work")
		cancel()
	}()

	orch, closeFn, err := buildOrchestrator(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}
	defer closeFn()

	switch os.Args[1] {
	case "extract":
		runExtract(ctx, orch, os.Args[2:])
	case "batch":
		runBatch(ctx, orch, cfg, os.Args[2:])
	case "stats":
		runStats(orch)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: extractctl <extract|batch|stats> [args]")
}

func buildOrchestrator(cfg *config.Config, log *logging.Logger) (*orchestrator.Orchestrator, func(), error) {
	c, err := cache.Open(cache.Config{
		L1Capacity: cfg.CacheL1Capacity,
		L2Dir:      cfg.CacheL2Dir,
		L2MaxBytes: cfg.CacheL2MaxBytes,
	}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	store, err := template.Open(cfg.TemplateDBPath, 16, log)
	if err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("open template store: %w", err)
	}

	p := parser.NewLedongthucParser()
	llm := llmclient.NewGeminiClient(cfg.GoogleAPIKey, "gemini-1.5-pro", cfg.LLMMaxRetries)

	orch := orchestrator.New(c, store, p, llm, log, orchestrator.Config{
		TemplateSimilarityThreshold: cfg.TemplateSimilarityThreshold,
		TemplateConfidenceThreshold: cfg.TemplateConfidenceThreshold,
		TemplateMinSamples:          cfg.TemplateMinSamples,
		ParserTimeout:               time.Duration(cfg.ParserTimeoutSeconds) * time.Second,
		LLMTimeout:                  time.Duration(cfg.LLMTimeoutSeconds) * time.Second,
		LLMMaxRetries:               cfg.LLMMaxRetries,
	})

	closeFn := func() {
		store.Close()
		c.Close()
	}
	return orch, closeFn, nil
}

func runExtract(ctx context.Context, orch *orchestrator.Orchestrator, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: extractctl extract <pdf> <label> <schema.json>")
		os.Exit(1)
	}

	pdfBytes, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read pdf: %v\n", err)
		os.Exit(1)
	}

	schema, err := loadSchema(args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "load schema: %v\n", err)
		os.Exit(1)
	}

	res, err := orch.Extract(ctx, model.ExtractionRequest{
		PDFBytes: pdfBytes,
		Label:    args[1],
		Schema:   schema,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "extract: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(res)
}

// manifestEntry mirrors the JSON manifest shape the original pipeline's
// batch_extract.load_dataset read: [{label, extraction_schema, pdf_path}].
type manifestEntry struct {
	Label            string            `json:"label"`
	ExtractionSchema map[string]string `json:"extraction_schema"`
	PDFPath          string            `json:"pdf_path"`
}

func runBatch(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: extractctl batch <manifest.json> <out-dir>")
		os.Exit(1)
	}
	manifestPath, outDir := args[0], args[1]

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read manifest: %v\n", err)
		os.Exit(1)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "parse manifest: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create out dir: %v\n", err)
		os.Exit(1)
	}

	items := make([]batch.Item, 0, len(entries))
	for i, e := range entries {
		pdfBytes, err := os.ReadFile(e.PDFPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skip %s: %v\n", e.PDFPath, err)
			continue
		}
		items = append(items, batch.Item{
			FileIndex: i,
			PDFBytes:  pdfBytes,
			Label:     e.Label,
			Schema:    schemaFromMap(e.ExtractionSchema),
		})
	}

	sched := batch.New(orch, cfg.BatchMaxWorkers)
	events := sched.Run(ctx, items)

	for ev := range events {
		switch ev.Type {
		case batch.EventResult:
			writeItemResult(outDir, ev.Result)
			fmt.Printf("[%d] %s: success=%v method=%s\n", ev.Result.FileIndex, ev.Result.Label, ev.Result.Result.Success, ev.Result.Result.Metadata.Method)
		case batch.EventComplete:
			writeSummary(outDir, ev.Complete)
			fmt.Printf("complete: total=%d successful=%d failed=%d time=%.2fs\n",
				ev.Complete.Total, ev.Complete.Successful, ev.Complete.Failed, ev.Complete.ProcessingTimeSeconds)
		}
	}
}

func writeItemResult(outDir string, r *batch.ItemResult) {
	path := filepath.Join(outDir, fmt.Sprintf("item-%04d.json", r.FileIndex))
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.Encode(r)
}

func writeSummary(outDir string, s *batch.CompleteStats) {
	path := filepath.Join(outDir, "summary.json")
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.Encode(s)
}

func runStats(orch *orchestrator.Orchestrator) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(orch.Stats())
}

func loadSchema(path string) (model.Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Schema{}, err
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Schema{}, err
	}
	return schemaFromMap(m), nil
}

// schemaFromMap builds a Schema from a JSON object. JSON objects carry no
// field order of their own, so names are sorted for determinism; this only
// affects prompt/log readability, not extraction correctness.
func schemaFromMap(m map[string]string) model.Schema {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := model.Schema{}
	for _, name := range names {
		schema.Fields = append(schema.Fields, model.SchemaField{Name: name, Description: m[name]})
	}
	return schema
}
