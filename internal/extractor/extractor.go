// Package extractor implements the field extractor (§4.6): applying a
// template's learned patterns to a parsed document and reporting, per
// field, whether a validated value was found.
package extractor

import (
	"regexp"
	"strings"

	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/textutil"
	"github.com/adverant/pdfextract/internal/validators"
)

const positionalTolerance = 0.10
const regexMaxGlobalMatches = 3

// Extract applies template's field patterns against doc for every field
// named in schema, returning a value (or nil) per field plus the set of
// fields that were actually filled.
func Extract(doc *model.ParsedDocument, template *model.Template, schema model.Schema) model.FieldExtraction {
	out := model.FieldExtraction{
		Values:       make(map[string]interface{}, len(schema.Fields)),
		FieldsFilled: make(map[string]struct{}),
	}

	docText := doc.Text()

	for _, f := range schema.Fields {
		out.Values[f.Name] = nil

		pattern, ok := template.FieldPatterns[f.Name]
		if !ok {
			continue
		}

		raw, found := applyPattern(doc, docText, pattern)
		if !found {
			continue
		}

		shape := validators.InferShapeHint(f.Description)
		normalized, valid := validators.Validate(raw, shape)
		if !valid {
			continue
		}

		out.Values[f.Name] = normalized
		out.FieldsFilled[f.Name] = struct{}{}
	}

	return out
}

// Confidence reports the template's stored confidence for a field, or 0 if
// the field has never been observed.
func Confidence(template *model.Template, field string) float64 {
	return template.FieldConfidence[field]
}

func applyPattern(doc *model.ParsedDocument, docText string, pattern model.Pattern) (string, bool) {
	switch pattern.Kind {
	case model.PatternPositional:
		return applyPositional(doc, pattern.Positional)
	case model.PatternContextual:
		return applyContextual(doc, pattern.Contextual)
	case model.PatternRegex:
		return applyRegex(docText, pattern.Regex)
	default:
		return "", false
	}
}

// applyPositional accepts the smallest-area element whose centre falls
// within the pattern's region extended by 10% on each side, restricted to
// the recorded page.
func applyPositional(doc *model.ParsedDocument, p *model.PositionalPattern) (string, bool) {
	var best *model.Element
	for i := range doc.Elements {
		el := &doc.Elements[i]
		if el.Page != p.Page {
			continue
		}
		if !p.Region.Contains(el.Box.CenterX(), el.Box.CenterY(), positionalTolerance) {
			continue
		}
		if best == nil || el.Box.Area() < best.Box.Area() {
			best = el
		}
	}
	if best == nil {
		return "", false
	}
	return strings.TrimSpace(best.Text), true
}

// applyContextual finds the anchor text among the document's elements and
// returns the nearest element in the recorded relative direction.
func applyContextual(doc *model.ParsedDocument, p *model.ContextualPattern) (string, bool) {
	normAnchor := textutil.Normalize(p.AnchorText)

	for i := range doc.Elements {
		anchorEl := &doc.Elements[i]
		if textutil.Normalize(anchorEl.Text) != normAnchor {
			continue
		}

		if val, ok := findInDirection(doc.Elements, i, p.Direction); ok {
			return val, true
		}
	}
	return "", false
}

func findInDirection(elements []model.Element, anchorIdx int, dir model.Direction) (string, bool) {
	anchor := elements[anchorIdx]

	var best *model.Element
	for i := range elements {
		if i == anchorIdx {
			continue
		}
		cand := &elements[i]
		if cand.Page != anchor.Page {
			continue
		}

		switch dir {
		case model.DirectionRight, model.DirectionSameLine:
			if !onSameLine(cand.Box, anchor.Box) || cand.Box.X0 < anchor.Box.X1 {
				continue
			}
		case model.DirectionBelow:
			if cand.Box.Y0 < anchor.Box.Y1 {
				continue
			}
		default:
			continue
		}

		if best == nil || nearer(cand.Box, anchor.Box, best.Box) {
			best = cand
		}
	}
	if best == nil {
		return "", false
	}
	return strings.TrimSpace(best.Text), true
}

func nearer(cand, anchor, current model.BoundingBox) bool {
	dCand := distance(cand, anchor)
	dCurrent := distance(current, anchor)
	return dCand < dCurrent
}

func distance(a, b model.BoundingBox) float64 {
	dx := a.CenterX() - b.CenterX()
	dy := a.CenterY() - b.CenterY()
	return dx*dx + dy*dy
}

func onSameLine(a, b model.BoundingBox) bool {
	tolerance := (a.Height() + b.Height()) / 4
	d := a.CenterY() - b.CenterY()
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

// applyRegex accepts a match only when the pattern's expression matches at
// most regexMaxGlobalMatches substrings across the whole document.
func applyRegex(docText string, p *model.RegexPattern) (string, bool) {
	re, err := regexp.Compile(p.Expression)
	if err != nil {
		return "", false
	}
	matches := re.FindAllString(docText, regexMaxGlobalMatches+1)
	if len(matches) == 0 || len(matches) > regexMaxGlobalMatches {
		return "", false
	}
	return matches[0], true
}
