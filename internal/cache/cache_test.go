package cache

import (
	"context"
	"testing"

	"github.com/adverant/pdfextract/internal/fingerprint"
	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := Open(Config{L1Capacity: capacity, L2Dir: t.TempDir()}, logging.NewLogger("test"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleResult(name string) *model.ExtractionResult {
	return &model.ExtractionResult{
		Success: true,
		Data:    map[string]interface{}{"nome": name},
		Metadata: model.Metadata{Method: model.MethodLLM},
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t, 100)
	ctx := context.Background()
	key := model.CacheKey("k1")

	c.Put(ctx, key, []byte("pdf-bytes"), "oab", sampleResult("João Silva"))

	res, source := c.Get(ctx, key)
	if source != SourceL1 {
		t.Fatalf("source = %v, want l1 (fresh write should be in L1)", source)
	}
	if res.Data["nome"] != "João Silva" {
		t.Errorf("Data = %v, want João Silva", res.Data)
	}
}

func TestL2HitPromotesIntoL1(t *testing.T) {
	// Capacity 1: writing a second key evicts the first from L1, leaving it
	// reachable only through L2.
	c := newTestCache(t, 1)
	ctx := context.Background()

	c.Put(ctx, "k2", []byte("pdf-bytes"), "oab", sampleResult("Maria"))
	c.Put(ctx, "other", []byte("other-bytes"), "oab", sampleResult("Other"))

	res, source := c.Get(ctx, "k2")
	if source != SourceL2 {
		t.Fatalf("source = %v, want l2 (evicted from l1 by capacity)", source)
	}
	if res.Data["nome"] != "Maria" {
		t.Errorf("Data = %v, want Maria", res.Data)
	}

	if _, source := c.Get(ctx, "k2"); source != SourceL1 {
		t.Errorf("second Get source = %v, want l1 (should have been promoted)", source)
	}
}

func TestGetMissReportsMiss(t *testing.T) {
	c := newTestCache(t, 100)
	if _, source := c.Get(context.Background(), model.CacheKey("absent")); source != SourceMiss {
		t.Errorf("source = %v, want miss", source)
	}
}

func TestL1CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := newTestCache(t, 2)
	ctx := context.Background()

	c.Put(ctx, "a", []byte("a"), "oab", sampleResult("A"))
	c.Put(ctx, "b", []byte("b"), "oab", sampleResult("B"))
	c.Get(ctx, "a") // touch a, making b the LRU entry
	c.Put(ctx, "c", []byte("c"), "oab", sampleResult("C"))

	if _, source := c.Get(ctx, "b"); source == SourceL1 {
		t.Error("b should have been evicted from L1 as least-recently-used")
	}
	if _, source := c.Get(ctx, "a"); source != SourceL1 {
		t.Error("a should still be the most-recently-used L1 entry")
	}
	if _, source := c.Get(ctx, "c"); source != SourceL1 {
		t.Error("c is the newest write and should be in L1")
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := newTestCache(t, 100)
	ctx := context.Background()

	c.Put(ctx, "k", []byte("k"), "oab", sampleResult("K"))
	c.Get(ctx, "k")          // l1 hit
	c.Get(ctx, "not-a-key")  // l1 miss, then l2 miss

	stats := c.Stats()
	if stats.L1Hits != 1 {
		t.Errorf("L1Hits = %d, want 1", stats.L1Hits)
	}
	if stats.L1Misses < 1 {
		t.Errorf("L1Misses = %d, want >= 1", stats.L1Misses)
	}
}

func TestInvalidatePDFRemovesEveryLabelAndSchemaVariant(t *testing.T) {
	c := newTestCache(t, 100)
	ctx := context.Background()
	pdfBytes := []byte("shared-document")

	c.Put(ctx, "k-oab", pdfBytes, "oab", sampleResult("A"))
	c.Put(ctx, "k-tela", pdfBytes, "tela", sampleResult("B"))
	c.Put(ctx, "k-other", []byte("different-document"), "oab", sampleResult("C"))

	pdfHash := fingerprint.PDFHash(pdfBytes)
	removedL1, removedL2, err := c.InvalidatePDF(ctx, pdfHash)
	if err != nil {
		t.Fatalf("InvalidatePDF() error = %v", err)
	}
	if removedL1 != 2 {
		t.Errorf("removedL1 = %d, want 2", removedL1)
	}
	if removedL2 != 2 {
		t.Errorf("removedL2 = %d, want 2", removedL2)
	}

	if _, source := c.Get(ctx, "k-oab"); source != SourceMiss {
		t.Error("k-oab should have been invalidated")
	}
	if _, source := c.Get(ctx, "k-other"); source == SourceMiss {
		t.Error("k-other belongs to a different document and should survive")
	}
}

func TestLabelsEnumeratesWarmL2Labels(t *testing.T) {
	c := newTestCache(t, 100)
	ctx := context.Background()

	c.Put(ctx, "k1", []byte("a"), "oab", sampleResult("A"))
	c.Put(ctx, "k2", []byte("b"), "tela", sampleResult("B"))

	labels, err := c.Labels(ctx)
	if err != nil {
		t.Fatalf("Labels() error = %v", err)
	}
	if len(labels) != 2 {
		t.Fatalf("labels = %v, want 2 entries", labels)
	}
}
