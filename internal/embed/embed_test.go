package embed

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/store"
)

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashedEmbedder_UnitNorm(t *testing.T) {
	h := NewHashedEmbedder("", 384)
	ctx := context.Background()

	for _, text := range []string{
		"email login page",
		"a",
		"the quick brown fox jumps over the lazy dog",
		"", // falls back to a fixed basis vector
	} {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed(%q) error = %v", text, err)
		}
		if len(vec) != 384 {
			t.Fatalf("dimension = %d, want 384", len(vec))
		}
		if n := norm(vec); math.Abs(n-1) > 1e-6 {
			t.Errorf("norm(%q) = %f, want 1±1e-6", text, n)
		}
	}
}

func TestHashedEmbedder_Deterministic(t *testing.T) {
	h := NewHashedEmbedder("hash-v1", 128)
	ctx := context.Background()

	a, err := h.Embed(ctx, "authentication credentials")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := h.Embed(ctx, "authentication credentials")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %f vs %f", i, a[i], b[i])
		}
	}

	other := NewHashedEmbedder("hash-v2", 128)
	c, err := other.Embed(ctx, "authentication credentials")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if cosine(a, c) > 0.99 {
		t.Error("different model tags produced the same vector space")
	}
}

func TestHashedEmbedder_SharedTokensScoreHigher(t *testing.T) {
	h := NewHashedEmbedder("", 384)
	ctx := context.Background()

	q, _ := h.Embed(ctx, "email login page")
	near, _ := h.Embed(ctx, "login page for email accounts")
	far, _ := h.Embed(ctx, "breakfast recipe with eggs")

	if cosine(q, near) <= cosine(q, far) {
		t.Errorf("cosine(near) = %f <= cosine(far) = %f", cosine(q, near), cosine(q, far))
	}
}

func TestHashedEmbedder_BatchMatchesSingles(t *testing.T) {
	h := NewHashedEmbedder("", 64)
	ctx := context.Background()

	texts := []string{"first text", "second text"}
	batch, err := h.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	for i, text := range texts {
		single, err := h.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		for j := range single {
			if batch[i][j] != single[j] {
				t.Fatalf("batch[%d] differs from single embed", i)
			}
		}
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	e, err := New(Config{Provider: "hash", ModelTag: "hash-v1", Dimension: 384})
	if err != nil {
		t.Fatalf("New(hash) error = %v", err)
	}
	if e.Model() != "hash-v1" || e.Dimension() != 384 {
		t.Errorf("embedder = %s/%d, want hash-v1/384", e.Model(), e.Dimension())
	}

	if _, err := New(Config{Provider: "hash", Dimension: 0}); err == nil {
		t.Error("New() expected error for zero dimension")
	}
	if _, err := New(Config{Provider: "bogus", Dimension: 384}); err == nil {
		t.Error("New() expected error for unknown provider")
	}
}

func newPoolStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), "test-secret")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPool_ProcessesQueue(t *testing.T) {
	s := newPoolStore(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, []store.EventRow{
		{TS: 1000, Content: "first event"},
		{TS: 2000, Content: "second event"},
		{TS: 3000, Content: "third event"},
	})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	m := metrics.New()
	emb := NewHashedEmbedder("hash-v1", 32)
	pool := NewPool(s, emb, 2, 16, m)
	pool.Start(ctx)

	jobs := make([]Job, len(ids))
	for i, id := range ids {
		jobs[i] = Job{EventID: id, Content: "event content"}
	}
	if n := pool.Enqueue(jobs...); n != 3 {
		t.Fatalf("Enqueue() accepted = %d, want 3", n)
	}
	pool.Stop()

	count, err := s.CountEmbeddings(ctx, "hash-v1")
	if err != nil {
		t.Fatalf("CountEmbeddings() error = %v", err)
	}
	if count != 3 {
		t.Errorf("embeddings = %d, want 3", count)
	}
	if got := metrics.Load(&m.EmbeddingsWritten); got != 3 {
		t.Errorf("EmbeddingsWritten = %d, want 3", got)
	}
}

func TestPool_EnqueueDropsWhenFull(t *testing.T) {
	s := newPoolStore(t)
	m := metrics.New()
	pool := NewPool(s, NewHashedEmbedder("hash-v1", 32), 1, 2, m)
	// Workers not started, so the queue cannot drain.

	accepted := pool.Enqueue(
		Job{EventID: 1, Content: "a"},
		Job{EventID: 2, Content: "b"},
		Job{EventID: 3, Content: "c"},
	)
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
	if got := metrics.Load(&m.EmbedJobsDropped); got != 1 {
		t.Errorf("EmbedJobsDropped = %d, want 1", got)
	}
	if pool.QueueDepth() != 2 {
		t.Errorf("QueueDepth() = %d, want 2", pool.QueueDepth())
	}
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	s := newPoolStore(t)
	m := metrics.New()
	pool := NewPool(s, NewHashedEmbedder("hash-v1", 32), 1, 4, m)
	pool.Start(context.Background())
	pool.Stop()

	if n := pool.Enqueue(Job{EventID: 1, Content: "late"}); n != 0 {
		t.Errorf("Enqueue() after stop accepted = %d, want 0", n)
	}
	if got := metrics.Load(&m.EmbedJobsDropped); got != 1 {
		t.Errorf("EmbedJobsDropped = %d, want 1", got)
	}
}

func TestPool_Backfill(t *testing.T) {
	s := newPoolStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, []store.EventRow{
		{TS: 1000, Content: "typed text one"},
		{TS: 2000, Content: "typed text two"},
		{TS: 3000, Kind: "key", Content: "F5"},
	}); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	m := metrics.New()
	pool := NewPool(s, NewHashedEmbedder("hash-v1", 32), 1, 4, m)

	written, err := pool.Backfill(ctx, 1)
	if err != nil {
		t.Fatalf("Backfill() error = %v", err)
	}
	if written != 2 {
		t.Errorf("written = %d, want 2 (key rows are not embedded)", written)
	}

	pending, err := s.MissingEmbeddings(ctx, "hash-v1", 10)
	if err != nil {
		t.Fatalf("MissingEmbeddings() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after backfill = %d, want 0", len(pending))
	}

	// Idempotent: a second sweep finds nothing.
	written, err = pool.Backfill(ctx, 10)
	if err != nil {
		t.Fatalf("Backfill() rerun error = %v", err)
	}
	if written != 0 {
		t.Errorf("rerun written = %d, want 0", written)
	}
}

type failingEmbedder struct {
	HashedEmbedder
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("backend down")
}

func TestPool_FailureCountsAndContinues(t *testing.T) {
	s := newPoolStore(t)
	ctx := context.Background()

	m := metrics.New()
	fe := &failingEmbedder{HashedEmbedder: *NewHashedEmbedder("hash-v1", 32)}
	pool := NewPool(s, fe, 1, 4, m)
	pool.Start(ctx)
	pool.Enqueue(Job{EventID: 1, Content: "a"}, Job{EventID: 2, Content: "b"})
	pool.Stop()

	if got := metrics.Load(&m.EmbedFailures); got != 2 {
		t.Errorf("EmbedFailures = %d, want 2", got)
	}
	if got := metrics.Load(&m.EmbeddingsWritten); got != 0 {
		t.Errorf("EmbeddingsWritten = %d, want 0", got)
	}
}
