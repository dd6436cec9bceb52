package template

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
)

func newTestLearner(t *testing.T) (*Learner, *Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "templates.db")
	store, err := Open(path, 16, logging.NewLogger("test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewLearner(store, logging.NewLogger("test")), store
}

func idSeq(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i]
		i++
		return id
	}
}

func oabDoc(name, inscricao string) *model.ParsedDocument {
	return &model.ParsedDocument{
		Convention: "pixels-top-left",
		Elements: []model.Element{
			{Text: "Nome", Page: 1, Box: model.BoundingBox{X0: 0, Y0: 0, X1: 40, Y1: 10}, Kind: model.ElementLine},
			{Text: name, Page: 1, Box: model.BoundingBox{X0: 50, Y0: 0, X1: 150, Y1: 10}, Kind: model.ElementLine},
			{Text: "Inscrição", Page: 1, Box: model.BoundingBox{X0: 0, Y0: 20, X1: 40, Y1: 30}, Kind: model.ElementLine},
			{Text: inscricao, Page: 1, Box: model.BoundingBox{X0: 50, Y0: 20, X1: 150, Y1: 30}, Kind: model.ElementLine},
		},
	}
}

func TestLearnCreatesTemplateOnFirstSample(t *testing.T) {
	learner, store := newTestLearner(t)
	ctx := context.Background()

	doc := oabDoc("João Silva", "123456")
	schema := model.Schema{Fields: []model.SchemaField{{Name: "nome"}, {Name: "inscricao"}}}
	llmData := map[string]interface{}{"nome": "João Silva", "inscricao": "123456"}

	tpl, err := learner.Learn(ctx, idSeq("t1"), "oab", doc, schema, llmData, nil)
	if err != nil {
		t.Fatalf("Learn() error = %v", err)
	}
	if tpl.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", tpl.SampleCount)
	}
	if _, ok := tpl.FieldPatterns["nome"]; !ok {
		t.Error("expected a pattern to be induced for field nome")
	}

	list, err := store.List(ctx, "oab")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("store has %d templates, want 1", len(list))
	}
}

func TestLearnRefinesExistingTemplateAcrossSamples(t *testing.T) {
	learner, _ := newTestLearner(t)
	ctx := context.Background()
	schema := model.Schema{Fields: []model.SchemaField{{Name: "nome"}, {Name: "inscricao"}}}

	doc1 := oabDoc("João Silva", "123456")
	tpl1, err := learner.Learn(ctx, idSeq("t1"), "oab",
		doc1, schema, map[string]interface{}{"nome": "João Silva", "inscricao": "123456"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	doc2 := oabDoc("Maria Souza", "654321")
	tpl2, err := learner.Learn(ctx, idSeq("t2"), "oab",
		doc2, schema, map[string]interface{}{"nome": "Maria Souza", "inscricao": "654321"}, tpl1)
	if err != nil {
		t.Fatal(err)
	}

	if tpl2.ID != tpl1.ID {
		t.Errorf("second sample should refine the same template, got new id %q", tpl2.ID)
	}
	if tpl2.SampleCount != 2 {
		t.Errorf("SampleCount = %d, want 2 after two samples", tpl2.SampleCount)
	}
}

func TestLearnCreatesSiblingOnLargeSignatureDrift(t *testing.T) {
	learner, _ := newTestLearner(t)
	ctx := context.Background()
	schema := model.Schema{Fields: []model.SchemaField{{Name: "nome"}, {Name: "inscricao"}}}

	existing := model.NewTemplate("t1", "oab", schema)
	existing.StructuralSignature = map[string]struct{}{
		"nome": {}, "inscricao": {}, "seccional": {}, "subsecao": {}, "categoria": {},
	}
	existing.SampleCount = 3

	// A document whose detectable anchors barely overlap the existing
	// signature should branch off a sibling rather than mutate it.
	drifted := &model.ParsedDocument{
		Elements: []model.Element{
			{Text: "totally unrelated content with no recognised anchors", Page: 1,
				Box: model.BoundingBox{X0: 0, Y0: 0, X1: 100, Y1: 10}},
		},
	}

	tpl, err := learner.Learn(ctx, idSeq("sibling"), "oab", drifted, schema,
		map[string]interface{}{"nome": "X"}, existing)
	if err != nil {
		t.Fatal(err)
	}
	if tpl.ID == existing.ID {
		t.Error("expected a sibling template, got the same id as the drifted existing template")
	}
}

func TestLearnSkipsNilAndEmptyFieldValues(t *testing.T) {
	learner, _ := newTestLearner(t)
	ctx := context.Background()
	schema := model.Schema{Fields: []model.SchemaField{{Name: "nome"}, {Name: "seccional"}}}

	doc := oabDoc("João Silva", "123456")
	tpl, err := learner.Learn(ctx, idSeq("t1"), "oab", doc, schema,
		map[string]interface{}{"nome": "João Silva", "seccional": nil}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tpl.FieldPatterns["seccional"]; ok {
		t.Error("a nil LLM value should not induce a pattern")
	}
}
