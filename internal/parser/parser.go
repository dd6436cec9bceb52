// Package parser defines the PDF-to-text+coordinate contract (§6) and
// ships a default adapter over github.com/ledongthuc/pdf so the pipeline
// is exercisable end to end without a second repository.
package parser

import (
	"bytes"
	"context"
	"sort"

	"github.com/ledongthuc/pdf"

	"github.com/adverant/pdfextract/internal/errors"
	"github.com/adverant/pdfextract/internal/model"
)

// Parser produces a ParsedDocument from raw PDF bytes, or a parse error.
// The orchestrator depends only on this interface, never on the concrete
// adapter, so a different implementation can be substituted per §6.
type Parser interface {
	Parse(ctx context.Context, pdfBytes []byte) (*model.ParsedDocument, error)
}

// Convention names the coordinate space ledongthuc/pdf reports: PDF
// user-space points with the origin at the bottom-left of the page. The
// core stores this tag but never re-normalises it (§9).
const Convention model.CoordinateConvention = "pdf-points-bottom-left"

const lineYTolerance = 2.0

// LedongthucParser is the default Parser adapter.
type LedongthucParser struct{}

func NewLedongthucParser() *LedongthucParser {
	return &LedongthucParser{}
}

func (p *LedongthucParser) Parse(ctx context.Context, pdfBytes []byte) (*model.ParsedDocument, error) {
	select {
	case <-ctx.Done():
		return nil, errors.NewParseError("", ctx.Err())
	default:
	}

	reader, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return nil, errors.NewParseError("", err)
	}

	doc := &model.ParsedDocument{Convention: Convention}

	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, errors.NewParseError("", ctx.Err())
		default:
		}

		page := reader.Page(pageNum)
		content := page.Content()
		elements := groupIntoLines(content.Text, pageNum)
		doc.Elements = append(doc.Elements, elements...)
	}

	// A page with no extractable text (most commonly a scanned PDF with no
	// text layer) is not a parse failure: return the empty document rather
	// than an error so the orchestrator falls through to the full LLM path
	// instead of surfacing a hard error for a case OCR was never going to
	// help anyway.
	return doc, nil
}

// groupIntoLines merges ledongthuc/pdf's per-glyph-run Text records into
// line-level elements by near-equal Y, the way §3 requires ("Elements are
// grouped into lines by near-equal y").
func groupIntoLines(runs []pdf.Text, pageNum int) []model.Element {
	if len(runs) == 0 {
		return nil
	}

	sorted := make([]pdf.Text, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if absDiff(sorted[i].Y, sorted[j].Y) > lineYTolerance {
			return sorted[i].Y > sorted[j].Y // top of page first
		}
		return sorted[i].X < sorted[j].X
	})

	var elements []model.Element
	var lineRuns []pdf.Text

	flush := func() {
		if len(lineRuns) == 0 {
			return
		}
		elements = append(elements, mergeLine(lineRuns, pageNum))
		lineRuns = nil
	}

	for _, r := range sorted {
		if len(lineRuns) > 0 && absDiff(lineRuns[0].Y, r.Y) > lineYTolerance {
			flush()
		}
		lineRuns = append(lineRuns, r)
	}
	flush()

	return elements
}

func mergeLine(runs []pdf.Text, pageNum int) model.Element {
	var text bytes.Buffer
	box := model.BoundingBox{
		X0: runs[0].X,
		Y0: runs[0].Y,
		X1: runs[0].X + runs[0].W,
		Y1: runs[0].Y + runs[0].FontSize,
	}

	for i, r := range runs {
		if i > 0 {
			text.WriteByte(' ')
		}
		text.WriteString(r.S)

		if r.X < box.X0 {
			box.X0 = r.X
		}
		if r.X+r.W > box.X1 {
			box.X1 = r.X + r.W
		}
		if r.Y < box.Y0 {
			box.Y0 = r.Y
		}
		if r.Y+r.FontSize > box.Y1 {
			box.Y1 = r.Y + r.FontSize
		}
	}

	return model.Element{
		Text: text.String(),
		Page: pageNum,
		Box:  box,
		Kind: model.ElementLine,
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
