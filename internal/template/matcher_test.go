package template

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/textutil"
)

func TestAnchorTokensRestrictsToFixedVocabulary(t *testing.T) {
	toks := AnchorTokens("Nome: João Silva CPF: 123.456.789-00 Endereço: Rua A")
	for _, want := range []string{"nome", "cpf", "endereco"} {
		if _, ok := toks[want]; !ok {
			t.Errorf("AnchorTokens() missing %q, got %v", want, toks)
		}
	}
	if _, ok := toks["joao"]; ok {
		t.Error("AnchorTokens() should only contain fixed anchor vocabulary, not arbitrary words")
	}
}

func exactTemplate(sig map[string]struct{}, trainingText string) *model.Template {
	tpl := model.NewTemplate("t1", "oab", model.Schema{})
	tpl.StructuralSignature = sig
	tpl.SampleCount = 2
	tpl.TrainingTokens = textutil.TopTokensByFrequency(trainingText, 200)
	tpl.TrainingText = textutil.Normalize(trainingText)
	return tpl
}

func TestScoreIsOneForIdenticalDocument(t *testing.T) {
	text := "Nome: João Silva CPF: 123.456.789-00"
	tpl := exactTemplate(AnchorTokens(text), text)
	if s := Score(text, tpl); s < 0.999 {
		t.Errorf("Score(identical) = %v, want ~1.0", s)
	}
}

func TestScoreIsZeroForDisjointDocument(t *testing.T) {
	tpl := exactTemplate(map[string]struct{}{"cpf": {}, "nome": {}}, "Nome: João Silva CPF: 123.456.789-00")
	if s := Score("totalmente irrelevante sem nenhum campo reconhecido", tpl); s > 0.1 {
		t.Errorf("Score(disjoint) = %v, want near 0", s)
	}
}

func TestBestAppliesSimilarityAndSampleCountGates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.db")
	store, err := Open(path, 16, logging.NewLogger("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	text := "Nome: João Silva CPF: 123.456.789-00 Inscrição: 123456"

	// Under min_samples: must not be returned even with a perfect signature.
	tooFewSamples := exactTemplate(AnchorTokens(text), text)
	tooFewSamples.ID = "too-few"
	tooFewSamples.SampleCount = 1
	if err := store.Upsert(ctx, tooFewSamples); err != nil {
		t.Fatal(err)
	}

	matcher := NewMatcher(store, 0.70, 2)
	if m, err := matcher.Best(ctx, "oab", text); err != nil {
		t.Fatal(err)
	} else if m != nil {
		t.Errorf("Best() = %+v, want nil (sample_count below min_samples)", m)
	}

	// A qualifying template should now be picked up.
	qualifying := exactTemplate(AnchorTokens(text), text)
	qualifying.ID = "qualifying"
	qualifying.SampleCount = 2
	if err := store.Upsert(ctx, qualifying); err != nil {
		t.Fatal(err)
	}

	m, err := matcher.Best(ctx, "oab", text)
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.Template.ID != "qualifying" {
		t.Fatalf("Best() = %v, want the qualifying template", m)
	}
	if m.Similarity < 0.70 {
		t.Errorf("Similarity = %v, want >= 0.70", m.Similarity)
	}
}

func TestBestReturnsNilBelowSimilarityThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.db")
	store, err := Open(path, 16, logging.NewLogger("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	tpl := exactTemplate(map[string]struct{}{"cpf": {}}, "CPF: 123.456.789-00")
	tpl.SampleCount = 2
	if err := store.Upsert(ctx, tpl); err != nil {
		t.Fatal(err)
	}

	matcher := NewMatcher(store, 0.70, 2)
	m, err := matcher.Best(ctx, "oab", "documento totalmente diferente sem nenhuma sobreposicao util")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("Best() = %+v, want nil (below similarity threshold)", m)
	}
}
