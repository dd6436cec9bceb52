// Package orchestrator implements the pipeline decision engine (§4.7):
// cache → template matching → template/hybrid → full LLM, with an
// at-most-one-LLM-call-per-fingerprint guarantee built on
// golang.org/x/sync/singleflight.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/adverant/pdfextract/internal/cache"
	"github.com/adverant/pdfextract/internal/errors"
	"github.com/adverant/pdfextract/internal/extractor"
	"github.com/adverant/pdfextract/internal/fingerprint"
	"github.com/adverant/pdfextract/internal/llmclient"
	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/parser"
	"github.com/adverant/pdfextract/internal/template"
)

// Config carries the thresholds and timeouts the orchestrator needs beyond
// what the component packages already own.
type Config struct {
	TemplateSimilarityThreshold float64
	TemplateConfidenceThreshold float64
	TemplateMinSamples          int
	ParserTimeout               time.Duration
	LLMTimeout                  time.Duration
	LLMMaxRetries               int
}

// Orchestrator sequences the four-stage extraction pipeline.
type Orchestrator struct {
	cache   *cache.Cache
	store   *template.Store
	matcher *template.Matcher
	learner *template.Learner
	parser  parser.Parser
	llm     llmclient.Client
	log     *logging.Logger
	cfg     Config

	inflight singleflight.Group

	mu           sync.Mutex
	startedAt    time.Time
	totalReqs    int64
	methodCounts map[model.Method]int64
	llmTimeTotal time.Duration
	llmCalls     int64
}

func New(c *cache.Cache, store *template.Store, p parser.Parser, llm llmclient.Client, log *logging.Logger, cfg Config) *Orchestrator {
	if cfg.TemplateSimilarityThreshold == 0 {
		cfg.TemplateSimilarityThreshold = 0.70
	}
	if cfg.TemplateConfidenceThreshold == 0 {
		cfg.TemplateConfidenceThreshold = 0.80
	}
	if cfg.TemplateMinSamples == 0 {
		cfg.TemplateMinSamples = 2
	}
	if cfg.ParserTimeout == 0 {
		cfg.ParserTimeout = 30 * time.Second
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = 120 * time.Second
	}

	return &Orchestrator{
		cache:        c,
		store:        store,
		matcher:      template.NewMatcher(store, cfg.TemplateSimilarityThreshold, cfg.TemplateMinSamples),
		learner:      template.NewLearner(store, log),
		parser:       p,
		llm:          llm,
		log:          log,
		cfg:          cfg,
		startedAt:    time.Now(),
		methodCounts: make(map[model.Method]int64),
	}
}

// Extract runs one request through the full pipeline (§4.7).
func (o *Orchestrator) Extract(ctx context.Context, req model.ExtractionRequest) (*model.ExtractionResult, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return o.errorResult(o.log, err, model.MethodError, start), nil
	}

	key := fingerprint.Of(req.PDFBytes, req.Label, req.Schema)
	reqLog := o.log.With("label", req.Label, "fingerprint", string(key))

	if res, source := o.cache.Get(ctx, key); source != cache.SourceMiss {
		method := model.MethodCacheL1
		if source == cache.SourceL2 {
			method = model.MethodCacheL2
		}
		out := *res
		out.Metadata.Method = method
		out.Metadata.TimeSeconds = time.Since(start).Seconds()
		o.recordMethod(method)
		return &out, nil
	}

	v, _, wasShared := o.inflight.Do(string(key), func() (interface{}, error) {
		return o.resolve(ctx, req, start, reqLog)
	})

	// v is the single *model.ExtractionResult shared across every caller
	// coalesced onto this singleflight call; each caller stamps its own
	// per-call metadata onto a private copy rather than mutating the
	// shared value concurrently.
	out := *v.(*model.ExtractionResult)
	out.Metadata.Coalesced = wasShared
	out.Metadata.TimeSeconds = time.Since(start).Seconds()
	res := &out

	if res.Success {
		o.cache.Put(ctx, key, req.PDFBytes, req.Label, res)
	}
	o.recordMethod(res.Metadata.Method)

	return res, nil
}

// resolve performs steps 2-5 of §4.7 under singleflight coalescing: parse,
// template match, template/hybrid, and full LLM fallback.
func (o *Orchestrator) resolve(ctx context.Context, req model.ExtractionRequest, start time.Time, log *logging.Logger) (*model.ExtractionResult, error) {
	parseCtx, cancel := context.WithTimeout(ctx, o.cfg.ParserTimeout)
	defer cancel()

	doc, err := o.parser.Parse(parseCtx, req.PDFBytes)
	if err != nil {
		return o.errorResult(log, errors.NewParseError("", err), model.MethodError, start), nil
	}

	docText := doc.Text()
	match, err := o.matcher.Best(ctx, req.Label, docText)
	if err != nil {
		// A persistence-kind failure (store unreachable) degrades to "no
		// template found" so the request still completes via full LLM; any
		// other kind means the matcher itself is broken and should surface.
		if !errors.Is(err, errors.KindPersistence) {
			return o.errorResult(log, err, model.MethodError, start), nil
		}
		log.Warn("template store unavailable, proceeding without a template", "error", err)
		match = nil
	}

	if match != nil {
		if res := o.runTemplateOrHybrid(ctx, req, doc, match, start, log); res != nil {
			return res, nil
		}
		// Fall through to full LLM when the hybrid path produced no
		// usable fields at all (§4.7 step 4's full-failure clause).
	}

	return o.runFullLLM(ctx, req, doc, start, log), nil
}

// runTemplateOrHybrid implements §4.7 step 4. Returns nil to signal a full
// fall-through to step 5 (full LLM on complete schema).
func (o *Orchestrator) runTemplateOrHybrid(ctx context.Context, req model.ExtractionRequest, doc *model.ParsedDocument, match *template.Match, start time.Time, log *logging.Logger) *model.ExtractionResult {
	fe := extractor.Extract(doc, match.Template, req.Schema)

	var templateFields, missingFields []string
	for _, f := range req.Schema.Fields {
		_, filled := fe.FieldsFilled[f.Name]
		conf := extractor.Confidence(match.Template, f.Name)
		if filled && conf >= o.cfg.TemplateConfidenceThreshold {
			templateFields = append(templateFields, f.Name)
		} else {
			missingFields = append(missingFields, f.Name)
		}
	}

	if len(missingFields) == 0 {
		return &model.ExtractionResult{
			Success: true,
			Data:    fe.Values,
			Metadata: model.Metadata{
				Method:         model.MethodTemplate,
				Similarity:     match.Similarity,
				TemplateID:     match.Template.ID,
				TemplateFields: len(templateFields),
			},
		}
	}

	reduced := req.Schema.Reduce(missingFields)
	llmCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()

	llmStart := time.Now()
	data, retries, err := o.llm.Extract(llmCtx, doc.Elements, reduced, llmclient.Options{})
	o.recordLLMCall(time.Since(llmStart))

	if err != nil {
		filledCount := 0
		for _, name := range templateFields {
			if fe.Values[name] != nil {
				filledCount++
			}
		}
		success := filledCount > 0
		if !success {
			return nil // fully failed, fall through to step 5
		}
		return &model.ExtractionResult{
			Success: true,
			Data:    fe.Values,
			Metadata: model.Metadata{
				Method:         model.MethodTemplate,
				Similarity:     match.Similarity,
				TemplateID:     match.Template.ID,
				TemplateFields: len(templateFields),
				LLMRetries:     retries,
				Warning:        "hybrid LLM call failed: " + err.Error(),
				LastAttempted:  model.MethodHybrid,
			},
		}
	}

	merged := make(map[string]interface{}, len(fe.Values))
	for k, v := range fe.Values {
		merged[k] = v
	}
	llmFilled := 0
	for _, name := range missingFields {
		if v, ok := data[name]; ok && v != nil {
			merged[name] = v
			llmFilled++
		}
	}

	return &model.ExtractionResult{
		Success: true,
		Data:    merged,
		Metadata: model.Metadata{
			Method:         model.MethodHybrid,
			Similarity:     match.Similarity,
			TemplateID:     match.Template.ID,
			TemplateFields: len(templateFields),
			LLMFields:      llmFilled,
			LLMRetries:     retries,
		},
	}
}

// runFullLLM implements §4.7 step 5-6: a complete-schema LLM call, learning
// synchronously on success.
func (o *Orchestrator) runFullLLM(ctx context.Context, req model.ExtractionRequest, doc *model.ParsedDocument, start time.Time, log *logging.Logger) *model.ExtractionResult {
	llmCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()

	llmStart := time.Now()
	data, retries, err := o.llm.Extract(llmCtx, doc.Elements, req.Schema, llmclient.Options{})
	o.recordLLMCall(time.Since(llmStart))

	if err != nil {
		return o.errorResult(log, errors.NewLLMError("", retries, err), model.MethodLLM, start)
	}

	values := make(map[string]interface{}, len(req.Schema.Fields))
	for _, f := range req.Schema.Fields {
		if v, ok := data[f.Name]; ok {
			values[f.Name] = v
		} else {
			values[f.Name] = nil
		}
	}

	if _, err := o.learner.Learn(ctx, uuid.NewString, req.Label, doc, req.Schema, data, o.bestTemplateForLearning(ctx, req.Label)); err != nil {
		log.Warn("pattern learning failed", "error", err)
	}

	return &model.ExtractionResult{
		Success: true,
		Data:    values,
		Metadata: model.Metadata{
			Method:     model.MethodLLM,
			LLMFields:  len(req.Schema.Fields),
			LLMRetries: retries,
		},
	}
}

// bestTemplateForLearning returns the highest-ranked existing template for
// label (regardless of whether it met the matcher's gates), so the learner
// can decide whether to refine it or branch a sibling.
func (o *Orchestrator) bestTemplateForLearning(ctx context.Context, label string) *model.Template {
	templates, err := o.store.List(ctx, label)
	if err != nil || len(templates) == 0 {
		return nil
	}
	return templates[0]
}

func (o *Orchestrator) errorResult(log *logging.Logger, err error, lastAttempted model.Method, start time.Time) *model.ExtractionResult {
	ee, ok := err.(*errors.ExtractionError)
	msg := err.Error()
	if ok {
		msg = ee.Message
		kv := make([]interface{}, 0, 2*len(ee.ToMap()))
		for k, v := range ee.ToMap() {
			kv = append(kv, k, v)
		}
		log.Error("extraction failed", kv...)
	}
	return &model.ExtractionResult{
		Success: false,
		Data:    map[string]interface{}{},
		Error:   msg,
		Metadata: model.Metadata{
			Method:        model.MethodError,
			TimeSeconds:   time.Since(start).Seconds(),
			LastAttempted: lastAttempted,
		},
	}
}

func validate(req model.ExtractionRequest) error {
	if len(req.PDFBytes) == 0 {
		return errors.NewValidationError("", "pdf_bytes must not be empty", nil)
	}
	if req.Label == "" {
		return errors.NewValidationError("", "label must not be empty", nil)
	}
	if len(req.Schema.Fields) == 0 {
		return errors.NewValidationError("", "schema must have at least one field", nil)
	}
	seen := make(map[string]struct{}, len(req.Schema.Fields))
	for _, f := range req.Schema.Fields {
		if f.Name == "" {
			return errors.NewValidationError("", "schema field names must not be empty", nil)
		}
		if _, dup := seen[f.Name]; dup {
			return errors.NewValidationError("", "schema field names must be unique", nil)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func (o *Orchestrator) recordMethod(m model.Method) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.totalReqs++
	o.methodCounts[m]++
}

func (o *Orchestrator) recordLLMCall(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.llmCalls++
	o.llmTimeTotal += d
}
