package template

import (
	"context"

	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/textutil"
)

// AnchorPattern is the fixed set of label-like phrases the matcher looks
// for when deriving anchor tokens from a document's raw text, mirroring
// the small set of structural keywords the original template matcher
// recognised for Brazilian identity/registration documents.
var anchorPhrases = []string{
	"nome", "cpf", "cnpj", "endereco", "endereço", "telefone", "data",
	"assinatura", "valor", "total", "inscricao", "inscrição", "seccional",
	"subsecao", "subseção", "categoria", "situacao", "situação", "cidade",
	"referencia", "referência", "numero", "número", "cep", "email",
}

// Match is the matcher's result for one (document, template) pair.
type Match struct {
	Template   *model.Template
	Similarity float64
}

// Matcher scores similarity between a parsed document and stored
// templates (§4.4) and picks the best applicable one.
type Matcher struct {
	store               *Store
	similarityThreshold float64
	minSamples          int
}

func NewMatcher(store *Store, similarityThreshold float64, minSamples int) *Matcher {
	return &Matcher{store: store, similarityThreshold: similarityThreshold, minSamples: minSamples}
}

// Score computes S = 0.7*S_structural + 0.2*S_tokens + 0.1*S_characters
// between a document's derived anchor/token sets and a template.
func Score(docText string, t *model.Template) float64 {
	docAnchors := AnchorTokens(docText)
	sStructural := textutil.Jaccard(t.StructuralSignature, docAnchors)

	docTop := textutil.TopTokensByFrequency(docText, 200)
	sTokens := textutil.Jaccard(t.TrainingTokens, docTop)

	sCharacters := textutil.LCSRatio(textutil.Normalize(docText), t.TrainingText, 2048)

	return 0.7*sStructural + 0.2*sTokens + 0.1*sCharacters
}

// AnchorTokens extracts the structural keyword set from a document's raw
// text: case-folded, accent-preserving, stopwords removed, restricted to
// the fixed anchor-phrase vocabulary plus any schema field names embedded
// in the text (checked by the caller via signature union at learning time).
func AnchorTokens(text string) map[string]struct{} {
	tokens := textutil.ToSet(textutil.Tokenize(text))
	out := map[string]struct{}{}
	for _, phrase := range anchorPhrases {
		if _, ok := tokens[phrase]; ok {
			out[phrase] = struct{}{}
		}
	}
	return out
}

// Best returns the highest-scoring applicable template for label, or nil
// if none clears both gates: S >= similarityThreshold and
// sample_count >= minSamples (§4.4).
func (m *Matcher) Best(ctx context.Context, label, docText string) (*Match, error) {
	templates, err := m.store.List(ctx, label)
	if err != nil {
		return nil, err
	}

	var best *Match
	for _, t := range templates {
		if t.SampleCount < m.minSamples {
			continue
		}
		s := Score(docText, t)
		if s < m.similarityThreshold {
			continue
		}
		if best == nil || s > best.Similarity {
			best = &Match{Template: t, Similarity: s}
		}
	}
	return best, nil
}
