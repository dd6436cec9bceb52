// Package model defines the data types shared across the extraction
// pipeline: requests, results, parsed documents, templates, and patterns.
package model

import "time"

// Schema is an ordered mapping from field name to a human-readable
// description. Field names are unique within a schema.
type Schema struct {
	Fields []SchemaField
}

// SchemaField is one entry of a Schema.
type SchemaField struct {
	Name        string
	Description string
}

// Names returns the schema's field names in declared order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Reduce returns a new Schema containing only the named fields, preserving
// the original relative order. Used to build the reduced-schema LLM call in
// the hybrid path.
func (s Schema) Reduce(names []string) Schema {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	out := Schema{}
	for _, f := range s.Fields {
		if _, ok := want[f.Name]; ok {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// ExtractionRequest is the caller-supplied, immutable unit of work.
type ExtractionRequest struct {
	PDFBytes []byte
	Label    string
	Schema   Schema
}

// Method tags which execution path produced an ExtractionResult. It is a
// closed set, not a free string.
type Method string

const (
	MethodCacheL1   Method = "cache_l1"
	MethodCacheL2   Method = "cache_l2"
	MethodTemplate  Method = "template"
	MethodHybrid    Method = "hybrid"
	MethodLLM       Method = "llm"
	MethodError     Method = "error"
)

// Metadata records which path produced a result and path-specific detail.
type Metadata struct {
	Method         Method
	TimeSeconds    float64
	Similarity     float64 `json:",omitempty"`
	Confidence     float64 `json:",omitempty"`
	TemplateID     string  `json:",omitempty"`
	TemplateFields int     `json:",omitempty"`
	LLMFields      int     `json:",omitempty"`
	LLMRetries     int     `json:",omitempty"`
	Coalesced      bool    `json:",omitempty"`
	Warning        string  `json:",omitempty"`
	LastAttempted  Method  `json:",omitempty"`
}

// ExtractionResult is the immutable response to an ExtractionRequest.
type ExtractionResult struct {
	Success  bool
	Data     map[string]interface{}
	Metadata Metadata
	Error    string
}

// CacheKey is the fingerprint over (pdf_bytes, label, schema).
type CacheKey string

// ElementKind classifies a parsed document element.
type ElementKind string

const (
	ElementParagraph ElementKind = "paragraph"
	ElementTableCell ElementKind = "table_cell"
	ElementLine      ElementKind = "line"
)

// BoundingBox is a rectangle in whatever coordinate convention the parser
// that produced it uses. The core never re-normalises it.
type BoundingBox struct {
	X0, Y0, X1, Y1 float64
}

// Width and Height report the box's extents.
func (b BoundingBox) Width() float64  { return b.X1 - b.X0 }
func (b BoundingBox) Height() float64 { return b.Y1 - b.Y0 }

// Area reports the box's area, used for tie-breaking positional matches.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// CenterX and CenterY report the box's centre point.
func (b BoundingBox) CenterX() float64 { return (b.X0 + b.X1) / 2 }
func (b BoundingBox) CenterY() float64 { return (b.Y0 + b.Y1) / 2 }

// Contains reports whether (x, y) falls within the box extended by
// tolerance on each side (tolerance expressed as a fraction of width/height,
// e.g. 0.10 for 10%).
func (b BoundingBox) Contains(x, y, tolerance float64) bool {
	dx := b.Width() * tolerance
	dy := b.Height() * tolerance
	return x >= b.X0-dx && x <= b.X1+dx && y >= b.Y0-dy && y <= b.Y1+dy
}

// Element is one unit of a ParsedDocument: a run of text at a page location.
type Element struct {
	Text string
	Page int
	Box  BoundingBox
	Kind ElementKind
}

// CoordinateConvention is an opaque tag naming the coordinate space the
// parser emitted boxes in (e.g. "normalized-0-1-top-left",
// "pixels-top-left"). The core stores it but never interprets it.
type CoordinateConvention string

// ParsedDocument is the external parser's output: elements plus the
// coordinate convention they were produced in.
type ParsedDocument struct {
	Elements   []Element
	Convention CoordinateConvention
}

// Text concatenates every element's text, in document order, space-joined.
func (d ParsedDocument) Text() string {
	total := 0
	for _, e := range d.Elements {
		total += len(e.Text) + 1
	}
	buf := make([]byte, 0, total)
	for i, e := range d.Elements {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, e.Text...)
	}
	return string(buf)
}

// PatternKind tags which of the three extractor shapes a Pattern holds.
type PatternKind string

const (
	PatternPositional PatternKind = "positional"
	PatternContextual PatternKind = "contextual"
	PatternRegex      PatternKind = "regex"
)

// Direction is the relative position of a value with respect to its anchor
// text, used by contextual patterns.
type Direction string

const (
	DirectionRight    Direction = "right"
	DirectionBelow    Direction = "below"
	DirectionSameLine Direction = "same_line"
)

// PositionalPattern targets a bounding region on a specific page.
type PositionalPattern struct {
	Region     BoundingBox
	Page       int
	Convention CoordinateConvention
}

// ContextualPattern locates a value relative to nearby anchor text.
type ContextualPattern struct {
	AnchorText string
	Direction  Direction
}

// RegexPattern matches a value by its character-class shape.
type RegexPattern struct {
	Expression string
}

// Pattern is a tagged variant over the three extractor shapes, plus the
// confidence and sample history the learner maintains for the field it
// belongs to. Only the field named by PatternKind is populated.
type Pattern struct {
	Kind       PatternKind
	Positional *PositionalPattern
	Contextual *ContextualPattern
	Regex      *RegexPattern

	Confidence  float64
	SampleCount int
}

// Template is a stored, per-label collection of field patterns learned from
// past LLM extractions.
type Template struct {
	ID                  string
	Label               string
	SampleCount         int
	StructuralSignature map[string]struct{}
	FieldPatterns       map[string]Pattern
	FieldConfidence     map[string]float64
	CreatedAt           time.Time
	UpdatedAt           time.Time

	// TrainingTokens is the top-200-by-frequency non-stopword token set of
	// the most recent training document, used for the matcher's S_tokens
	// term (§4.4). TrainingText is that document's text, truncated to 2KB,
	// used for the S_characters LCS term.
	TrainingTokens map[string]struct{}
	TrainingText   string
}

// NewTemplate constructs an empty template for label with a fresh ID,
// signature seeded from the schema's own field names.
func NewTemplate(id, label string, schema Schema) *Template {
	sig := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		sig[f.Name] = struct{}{}
	}
	now := time.Now()
	return &Template{
		ID:                  id,
		Label:               label,
		SampleCount:         0,
		StructuralSignature: sig,
		FieldPatterns:       map[string]Pattern{},
		FieldConfidence:     map[string]float64{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// FieldExtraction is the field extractor's output for one document.
type FieldExtraction struct {
	Values       map[string]interface{}
	FieldsFilled map[string]struct{}
}
