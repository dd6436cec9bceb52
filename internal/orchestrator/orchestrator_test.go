package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adverant/pdfextract/internal/cache"
	"github.com/adverant/pdfextract/internal/llmclient"
	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/template"
)

// fakeParser returns a fixed document regardless of input bytes, counting
// how many times it was invoked.
type fakeParser struct {
	doc   *model.ParsedDocument
	calls int64
}

func (p *fakeParser) Parse(ctx context.Context, pdfBytes []byte) (*model.ParsedDocument, error) {
	atomic.AddInt64(&p.calls, 1)
	return p.doc, nil
}

// fakeLLM returns canned data per call, counting invocations and
// optionally blocking until released, to exercise singleflight coalescing.
type fakeLLM struct {
	mu      sync.Mutex
	data    map[string]interface{}
	err     error
	calls   int64
	release chan struct{}
}

func (f *fakeLLM) Extract(ctx context.Context, elements []model.Element, schema model.Schema, opts llmclient.Options) (map[string]interface{}, int, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	out := make(map[string]interface{}, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out, 0, nil
}

func sampleDoc() *model.ParsedDocument {
	return &model.ParsedDocument{
		Elements: []model.Element{
			{Text: "Nome:", Page: 1, Box: model.BoundingBox{X0: 0, Y0: 0, X1: 30, Y1: 10}},
			{Text: "João Silva", Page: 1, Box: model.BoundingBox{X0: 35, Y0: 0, X1: 100, Y1: 10}},
		},
	}
}

func sampleSchema() model.Schema {
	return model.Schema{Fields: []model.SchemaField{{Name: "nome", Description: "Nome completo"}}}
}

func newTestOrchestrator(t *testing.T, llm *fakeLLM) (*Orchestrator, *fakeParser) {
	t.Helper()
	c, err := cache.Open(cache.Config{L1Capacity: 100, L2Dir: t.TempDir()}, logging.NewLogger("test"))
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	store, err := template.Open(filepath.Join(t.TempDir(), "templates.db"), 16, logging.NewLogger("test"))
	if err != nil {
		t.Fatalf("template.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	p := &fakeParser{doc: sampleDoc()}
	o := New(c, store, p, llm, logging.NewLogger("test"), Config{})
	return o, p
}

func TestExtractColdCacheCallsLLMThenWarmsCache(t *testing.T) {
	llm := &fakeLLM{data: map[string]interface{}{"nome": "João Silva"}}
	o, _ := newTestOrchestrator(t, llm)
	ctx := context.Background()
	req := model.ExtractionRequest{PDFBytes: []byte("pdf-bytes"), Label: "oab", Schema: sampleSchema()}

	res, err := o.Extract(ctx, req)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !res.Success || res.Metadata.Method != model.MethodLLM {
		t.Fatalf("first call = %+v, want success via llm", res)
	}
	if llm.calls != 1 {
		t.Fatalf("llm.calls = %d, want 1", llm.calls)
	}

	res2, err := o.Extract(ctx, req)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res2.Metadata.Method != model.MethodCacheL1 {
		t.Errorf("second call method = %v, want cache_l1", res2.Metadata.Method)
	}
	if llm.calls != 1 {
		t.Errorf("llm.calls after cache hit = %d, want still 1", llm.calls)
	}
}

func TestExtractCoalescesConcurrentCallsForSameFingerprint(t *testing.T) {
	llm := &fakeLLM{
		data:    map[string]interface{}{"nome": "João Silva"},
		release: make(chan struct{}),
	}
	o, _ := newTestOrchestrator(t, llm)
	ctx := context.Background()
	req := model.ExtractionRequest{PDFBytes: []byte("pdf-bytes"), Label: "oab", Schema: sampleSchema()}

	const n = 5
	results := make([]*model.ExtractionResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.Extract(ctx, req)
			if err != nil {
				t.Errorf("Extract() error = %v", err)
				return
			}
			results[i] = res
		}(i)
	}

	// Give every goroutine a chance to reach the singleflight call before
	// releasing the one underlying LLM invocation.
	time.Sleep(50 * time.Millisecond)
	close(llm.release)
	wg.Wait()

	if llm.calls != 1 {
		t.Errorf("llm.calls = %d, want exactly 1 for coalesced concurrent requests", llm.calls)
	}

	coalescedCount := 0
	for _, res := range results {
		if res == nil {
			t.Fatal("a concurrent Extract() returned a nil result")
		}
		if res.Metadata.Coalesced {
			coalescedCount++
		}
	}
	if coalescedCount == 0 {
		t.Error("expected at least one result to be marked Coalesced")
	}
}

func TestExtractHybridFallsBackToLLMForMissingFields(t *testing.T) {
	llm := &fakeLLM{data: map[string]interface{}{"inscricao": "123456"}}
	o, p := newTestOrchestrator(t, llm)
	ctx := context.Background()

	schema := model.Schema{Fields: []model.SchemaField{
		{Name: "nome", Description: "Nome completo"},
		{Name: "inscricao", Description: "Número de inscrição"},
	}}

	// Seed a template that only covers "nome" with confidence above the
	// hybrid threshold, and enough samples to clear the matcher's gate.
	tpl := model.NewTemplate("t1", "oab", schema)
	tpl.SampleCount = 2
	tpl.FieldPatterns["nome"] = model.Pattern{
		Kind:       model.PatternPositional,
		Positional: &model.PositionalPattern{Region: model.BoundingBox{X0: 35, Y0: 0, X1: 100, Y1: 10}, Page: 1},
	}
	tpl.FieldConfidence["nome"] = 0.95
	tpl.StructuralSignature = map[string]struct{}{"nome": {}}
	tpl.TrainingTokens = map[string]struct{}{"nome": {}}
	tpl.TrainingText = p.doc.Text()
	if err := o.store.Upsert(ctx, tpl); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	req := model.ExtractionRequest{PDFBytes: []byte("pdf-bytes"), Label: "oab", Schema: schema}
	res, err := o.Extract(ctx, req)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("res = %+v, want success", res)
	}
	if res.Metadata.Method != model.MethodHybrid {
		t.Errorf("method = %v, want hybrid", res.Metadata.Method)
	}
	if res.Data["nome"] != "João Silva" {
		t.Errorf("Data[nome] = %v, want João Silva (from template)", res.Data["nome"])
	}
	if res.Data["inscricao"] != "123456" {
		t.Errorf("Data[inscricao] = %v, want 123456 (from llm)", res.Data["inscricao"])
	}
	if llm.calls != 1 {
		t.Errorf("llm.calls = %d, want 1", llm.calls)
	}
}

func TestExtractRejectsInvalidRequest(t *testing.T) {
	llm := &fakeLLM{data: map[string]interface{}{}}
	o, _ := newTestOrchestrator(t, llm)
	ctx := context.Background()

	res, err := o.Extract(ctx, model.ExtractionRequest{})
	if err != nil {
		t.Fatalf("Extract() error = %v, want nil error with a failed result", err)
	}
	if res.Success {
		t.Error("res.Success = true, want false for an empty request")
	}
	if res.Metadata.Method != model.MethodError {
		t.Errorf("method = %v, want error", res.Metadata.Method)
	}
	if llm.calls != 0 {
		t.Errorf("llm.calls = %d, want 0 (validation should short-circuit)", llm.calls)
	}
}

func TestExtractSurfacesLLMFailureAsErrorResult(t *testing.T) {
	llm := &fakeLLM{err: fmt.Errorf("llm: rate limited")}
	o, _ := newTestOrchestrator(t, llm)
	ctx := context.Background()
	req := model.ExtractionRequest{PDFBytes: []byte("pdf-bytes"), Label: "oab", Schema: sampleSchema()}

	res, err := o.Extract(ctx, req)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Success {
		t.Error("res.Success = true, want false when the llm call fails with no template")
	}
	if res.Metadata.Method != model.MethodError {
		t.Errorf("method = %v, want error", res.Metadata.Method)
	}
}
