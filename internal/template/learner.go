package template

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/textutil"
)

const (
	emaAlpha             = 0.3
	confidenceSeed       = 1.0
	regexMaxGlobalMatches = 3
	anchorMaxTokens      = 6
	signatureDeltaLimit  = 0.30
)

// Learner observes LLM outputs and induces or refines per-field patterns
// (§4.5).
type Learner struct {
	store *Store
	log   *logging.Logger
}

func NewLearner(store *Store, log *logging.Logger) *Learner {
	return &Learner{store: store, log: log}
}

// Learn is invoked after a full LLM extraction succeeds. It refines an
// existing template (if similarity holds) or creates a new one — either
// fresh for the label or a sibling when the structural signature has
// drifted by more than the 30% delta chosen in DESIGN.md — and persists it
// under the label's write lock, satisfying the happen-before requirement
// in §5 between a learning write and the next same-label read.
func (l *Learner) Learn(ctx context.Context, idGen func() string, label string, doc *model.ParsedDocument, schema model.Schema, llmData map[string]interface{}, existing *model.Template) (*model.Template, error) {
	var result *model.Template

	err := l.store.WithLabelLock(label, func() error {
		docText := doc.Text()
		docAnchors := AnchorTokens(docText)

		target := existing
		if target != nil {
			delta := 1.0 - textutil.Jaccard(target.StructuralSignature, unionSignature(schema, docAnchors))
			if delta > signatureDeltaLimit {
				l.log.Info("structural signature drifted past threshold, creating sibling template",
					"label", label, "template_id", target.ID, "delta", delta)
				target = nil
			}
		}
		if target == nil {
			target = model.NewTemplate(idGen(), label, schema)
			target.StructuralSignature = unionSignature(schema, docAnchors)
		}

		target.TrainingTokens = textutil.TopTokensByFrequency(docText, 200)
		target.TrainingText = truncate2KB(textutil.Normalize(docText))

		for field, value := range llmData {
			if value == nil {
				continue
			}
			strVal, ok := value.(string)
			if !ok || strVal == "" {
				continue
			}

			pattern, induced := inducePattern(doc, strVal)
			existingConf, hadPattern := target.FieldConfidence[field]

			if induced != nil {
				target.FieldPatterns[field] = *pattern
			}

			switch {
			case !hadPattern:
				target.FieldConfidence[field] = confidenceSeed
			case induced != nil:
				// A pattern was (re)inducible on this sample: treat as a
				// successful trial.
				target.FieldConfidence[field] = emaAlpha*1.0 + (1-emaAlpha)*existingConf
			default:
				// Could not locate the value in this document: treat as a
				// failed trial for the existing pattern.
				target.FieldConfidence[field] = emaAlpha*0.0 + (1-emaAlpha)*existingConf
			}
		}

		target.SampleCount++
		result = target
		return l.store.Upsert(ctx, target)
	})

	return result, err
}

func truncate2KB(s string) string {
	if len(s) <= 2048 {
		return s
	}
	return s[:2048]
}

func unionSignature(schema model.Schema, docAnchors map[string]struct{}) map[string]struct{} {
	sig := make(map[string]struct{}, len(schema.Fields)+len(docAnchors))
	for _, f := range schema.Fields {
		sig[f.Name] = struct{}{}
	}
	for a := range docAnchors {
		sig[a] = struct{}{}
	}
	return sig
}

// inducePattern tries, in priority order, to derive a positional, then
// contextual, then regex pattern for value from doc. Returns nil if none
// could be induced.
func inducePattern(doc *model.ParsedDocument, value string) (*model.Pattern, *struct{}) {
	marker := struct{}{}

	if p := inducePositional(doc, value); p != nil {
		return p, &marker
	}
	if p := induceContextual(doc, value); p != nil {
		return p, &marker
	}
	if p := induceRegex(doc, value); p != nil {
		return p, &marker
	}
	return nil, nil
}

// inducePositional locates the smallest element containing (a normalised
// form of) value and records its bounding box and page.
func inducePositional(doc *model.ParsedDocument, value string) *model.Pattern {
	var best *model.Element
	normValue := textutil.Normalize(value)
	digitsValue := textutil.DigitsOnly(value)

	for i := range doc.Elements {
		el := &doc.Elements[i]
		normText := textutil.Normalize(el.Text)
		matches := strings.Contains(normText, normValue)
		if !matches && digitsValue != "" {
			matches = strings.Contains(textutil.DigitsOnly(el.Text), digitsValue)
		}
		if !matches {
			continue
		}
		if best == nil || el.Box.Area() < best.Box.Area() {
			best = el
		}
	}
	if best == nil {
		return nil
	}

	return &model.Pattern{
		Kind: model.PatternPositional,
		Positional: &model.PositionalPattern{
			Region:     best.Box,
			Page:       best.Page,
			Convention: doc.Convention,
		},
		Confidence: confidenceSeed,
	}
}

// induceContextual looks for a short anchor label on the same line to the
// left, or on the line above, the element that carried the value.
func induceContextual(doc *model.ParsedDocument, value string) *model.Pattern {
	normValue := textutil.Normalize(value)

	for i := range doc.Elements {
		el := &doc.Elements[i]
		if !strings.Contains(textutil.Normalize(el.Text), normValue) {
			continue
		}

		if anchor, dir, ok := findAnchor(doc.Elements, i); ok {
			return &model.Pattern{
				Kind: model.PatternContextual,
				Contextual: &model.ContextualPattern{
					AnchorText: anchor,
					Direction:  dir,
				},
				Confidence: confidenceSeed,
			}
		}
	}
	return nil
}

func findAnchor(elements []model.Element, valueIdx int) (string, model.Direction, bool) {
	value := elements[valueIdx]

	var bestLeft *model.Element
	for i := range elements {
		if i == valueIdx {
			continue
		}
		cand := &elements[i]
		if cand.Page != value.Page {
			continue
		}
		sameLine := onSameLine(cand.Box, value.Box)
		above := cand.Box.Y1 <= value.Box.Y0 && cand.Box.CenterX() <= value.Box.X1

		if sameLine && cand.Box.X1 <= value.Box.X0 {
			if bestLeft == nil || cand.Box.X0 > bestLeft.Box.X0 {
				bestLeft = cand
			}
		} else if above && tokenCount(cand.Text) <= anchorMaxTokens {
			return strings.TrimSpace(cand.Text), model.DirectionBelow, true
		}
	}

	if bestLeft != nil && tokenCount(bestLeft.Text) <= anchorMaxTokens {
		return strings.TrimSpace(bestLeft.Text), model.DirectionRight, true
	}
	return "", "", false
}

func onSameLine(a, b model.BoundingBox) bool {
	tolerance := (a.Height() + b.Height()) / 4
	return absf(a.CenterY()-b.CenterY()) <= tolerance
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func tokenCount(s string) int {
	return len(strings.Fields(s))
}

// induceRegex derives a character-class shape from value (e.g.
// \d{3}\.\d{3}\.\d{3}-\d{2} from 123.456.789-00) and keeps it only if it
// matches at most regexMaxGlobalMatches substrings across the document —
// otherwise it's too generic to be useful.
func induceRegex(doc *model.ParsedDocument, value string) *model.Pattern {
	expr := shapeRegex(value)
	if expr == "" {
		return nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil
	}
	if len(re.FindAllString(doc.Text(), regexMaxGlobalMatches+1)) > regexMaxGlobalMatches {
		return nil
	}

	return &model.Pattern{
		Kind:       model.PatternRegex,
		Regex:      &model.RegexPattern{Expression: expr},
		Confidence: confidenceSeed,
	}
}

// shapeRegex turns a literal value into a regex over its character
// classes, run-length collapsing consecutive same-class runs, e.g.
// "123.456.789-00" -> `\d{3}\.\d{3}\.\d{3}-\d{2}`.
func shapeRegex(value string) string {
	if value == "" {
		return ""
	}

	var sb strings.Builder
	runeClass := func(r rune) string {
		switch {
		case r >= '0' && r <= '9':
			return `\d`
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			return `[A-Za-z]`
		default:
			return regexp.QuoteMeta(string(r))
		}
	}

	runes := []rune(value)
	i := 0
	for i < len(runes) {
		class := runeClass(runes[i])
		j := i + 1
		for j < len(runes) && runeClass(runes[j]) == class && (class == `\d` || class == `[A-Za-z]`) {
			j++
		}
		count := j - i
		if class == `\d` || class == `[A-Za-z]` {
			sb.WriteString(class)
			sb.WriteString("{" + strconv.Itoa(count) + "}")
		} else {
			for k := i; k < j; k++ {
				sb.WriteString(class)
			}
		}
		i = j
	}
	return sb.String()
}
