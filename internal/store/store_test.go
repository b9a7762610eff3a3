package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "test-secret")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRows() []EventRow {
	return []EventRow{
		{TS: 1000, Kind: "text", Content: "email login page", Application: "firefox", WindowTitle: "Sign in"},
		{TS: 2000, Kind: "text", Content: "authentication credentials", Application: "chrome", WindowTitle: "Login"},
		{TS: 3000, Kind: "text", Content: "breakfast recipe with eggs", Application: "notes", WindowTitle: "Recipes"},
	}
}

func TestOpen_CreatesEncryptedFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "secret-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.Path() != filepath.Join(dir, DBFileName) {
		t.Errorf("Path() = %q, want %q", s.Path(), filepath.Join(dir, DBFileName))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Reopening with the wrong secret must fail the key probe.
	if _, err := Open(dir, "secret-b"); err == nil {
		t.Fatal("Open() with wrong secret expected error")
	} else if !keyerrors.Is(err, keyerrors.ErrStoreOpen) {
		t.Errorf("error = %v, want STORE_OPEN", err)
	}

	// And the right secret must still work.
	s2, err := Open(dir, "secret-a")
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	s2.Close()
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a := DeriveKey("secret")
	b := DeriveKey("secret")
	if a != b {
		t.Errorf("DeriveKey not deterministic: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("key hex length = %d, want 64", len(a))
	}
	if DeriveKey("other") == a {
		t.Error("different secrets produced the same key")
	}
}

func TestInsertBatch_AssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, testRows())
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids length = %d, want 3", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not monotonic: %v", ids)
		}
	}

	rows, err := s.GetByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	r := rows[ids[0]]
	if r.Content != "email login page" {
		t.Errorf("Content = %q, want first row", r.Content)
	}
	if r.CreatedAt < r.TS {
		t.Errorf("CreatedAt %d < TS %d", r.CreatedAt, r.TS)
	}
}

func TestInsertBatch_RerunReturnsSameIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.InsertBatch(ctx, testRows())
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	second, err := s.InsertBatch(ctx, testRows())
	if err != nil {
		t.Fatalf("InsertBatch() rerun error = %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("rerun ids differ: %v vs %v", first, second)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.EventCount != 3 {
		t.Errorf("EventCount = %d, want 3 (no duplicate rows)", st.EventCount)
	}
}

func TestQueryFTS_MatchAndSnippet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	hits, total, err := s.QueryFTS(ctx, "login", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 2 || total != 2 {
		t.Fatalf("hits = %d, total = %d, want 2, 2", len(hits), total)
	}
	if !strings.Contains(hits[0].Snippet, SnippetOpenMarker) {
		t.Errorf("Snippet = %q, want highlight markers", hits[0].Snippet)
	}
	if hits[0].Rank >= 0 {
		t.Errorf("Rank = %f, want negative bm25", hits[0].Rank)
	}
}

func TestQueryFTS_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	hits, _, err := s.QueryFTS(ctx, "login", 10, 0, Filters{Applications: []string{"Firefox"}})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1 (application allow list)", len(hits))
	}

	from := int64(1500)
	hits, _, err = s.QueryFTS(ctx, "login", 10, 0, Filters{From: &from})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1 (ts range)", len(hits))
	}

	hits, _, err = s.QueryFTS(ctx, "login", 10, 0, Filters{ExcludeApplications: []string{"firefox", "chrome"}})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %d, want 0 (deny list)", len(hits))
	}
}

func TestQueryFTS_OffsetBeyondTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	hits, total, err := s.QueryFTS(ctx, "login", 10, 100, Filters{})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
}

func TestVectors_InsertQueryThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, testRows())
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	// Three unit vectors: identical, nearby, orthogonal.
	q := []float32{1, 0, 0}
	near := []float32{float32(math.Cos(0.3)), float32(math.Sin(0.3)), 0}
	if err := s.InsertEmbedding(ctx, ids[0], "test-v1", q); err != nil {
		t.Fatalf("InsertEmbedding() error = %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[1], "test-v1", near); err != nil {
		t.Fatalf("InsertEmbedding() error = %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[2], "test-v1", []float32{0, 0, 1}); err != nil {
		t.Fatalf("InsertEmbedding() error = %v", err)
	}

	hits, err := s.QueryVec(ctx, q, "test-v1", 10, 0.5, Filters{})
	if err != nil {
		t.Fatalf("QueryVec() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 (orthogonal below threshold)", len(hits))
	}
	if hits[0].ID != ids[0] || hits[1].ID != ids[1] {
		t.Errorf("order = %v, want identical first", hits)
	}
	if hits[0].Cosine < 0.999 {
		t.Errorf("best cosine = %f, want ~1", hits[0].Cosine)
	}

	// Mixed tags never meet
	hits, err = s.QueryVec(ctx, q, "other-model", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("QueryVec() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0 for foreign model tag", len(hits))
	}
}

func TestMissingEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, testRows())
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[1], "test-v1", []float32{0, 1, 0}); err != nil {
		t.Fatalf("InsertEmbedding() error = %v", err)
	}

	pending, err := s.MissingEmbeddings(ctx, "test-v1", 10)
	if err != nil {
		t.Fatalf("MissingEmbeddings() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].EventID != ids[0] {
		t.Errorf("pending[0] = %d, want oldest id %d", pending[0].EventID, ids[0])
	}

	n, err := s.CountEmbeddings(ctx, "test-v1")
	if err != nil {
		t.Fatalf("CountEmbeddings() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CountEmbeddings = %d, want 1", n)
	}
}

func TestImportRows_RejectsDuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows := []EventRow{
		{ID: 10, TS: 1000, Content: "first", CreatedAt: 1000},
		{ID: 11, TS: 2000, Content: "second", CreatedAt: 2000},
	}
	if err := s.ImportRows(ctx, rows); err != nil {
		t.Fatalf("ImportRows() error = %v", err)
	}

	err := s.ImportRows(ctx, []EventRow{{ID: 11, TS: 3000, Content: "dup", CreatedAt: 3000}})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("ImportRows() error = %v, want ErrDuplicateID", err)
	}

	// Next auto-assigned id continues above the imported ids.
	ids, err := s.InsertBatch(ctx, []EventRow{{TS: 4000, Content: "after import"}})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if ids[0] <= 11 {
		t.Errorf("id = %d, want > 11", ids[0])
	}
}

func TestClear_KeepsIDsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, testRows())
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	maxID := ids[len(ids)-1]

	deleted, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if deleted != int64(len(ids)) {
		t.Errorf("deleted = %d, want %d (counted from the delete)", deleted, len(ids))
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.EventCount != 0 || st.VectorCount != 0 {
		t.Errorf("counts after clear = %d/%d, want 0/0", st.EventCount, st.VectorCount)
	}

	// FTS cleaned by triggers
	hits, _, err := s.QueryFTS(ctx, "login", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("fts hits after clear = %d, want 0", len(hits))
	}

	newIDs, err := s.InsertBatch(ctx, []EventRow{{TS: 9000, Content: "post clear"}})
	if err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if newIDs[0] <= maxID {
		t.Errorf("id after clear = %d, want > %d", newIDs[0], maxID)
	}
}

func TestStats_PerApplication(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want positive", st.SizeBytes)
	}
	if st.OldestTS != 1000 || st.NewestTS != 3000 {
		t.Errorf("ts bounds = %d..%d, want 1000..3000", st.OldestTS, st.NewestTS)
	}
	if st.PerApplication["firefox"] != 1 {
		t.Errorf("PerApplication[firefox] = %d, want 1", st.PerApplication["firefox"])
	}
	if st.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", st.SchemaVersion, CurrentSchemaVersion)
	}
}

func TestOptimizeAndIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}
	if err := s.Optimize(ctx); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if err := s.IntegrityCheck(ctx); err != nil {
		t.Fatalf("IntegrityCheck() error = %v", err)
	}

	// Search still works after optimize
	hits, _, err := s.QueryFTS(ctx, "recipe", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("QueryFTS() error = %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1", len(hits))
	}
}

func TestBackup_CopyOpensWithSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), DBFileName)
	if err := s.Backup(ctx, dest); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	// The copy is a complete database readable with the same secret.
	b, err := Open(filepath.Dir(dest), "test-secret")
	if err != nil {
		t.Fatalf("Open(backup) error = %v", err)
	}
	defer b.Close()

	hits, _, err := b.QueryFTS(ctx, "login", 10, 0, Filters{})
	if err != nil {
		t.Fatalf("QueryFTS(backup) error = %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("backup hits = %d, want 2", len(hits))
	}
}

func TestForEachEvent_RangeAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, testRows()); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	var got []int64
	from, to := int64(1000), int64(2500)
	err := s.ForEachEvent(ctx, &from, &to, func(r EventRow) error {
		got = append(got, r.TS)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachEvent() error = %v", err)
	}
	if len(got) != 2 || got[0] != 1000 || got[1] != 2000 {
		t.Errorf("ts = %v, want [1000 2000]", got)
	}
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}
	decoded, err := DecodeVector(EncodeVector(vec))
	if err != nil {
		t.Fatalf("DecodeVector() error = %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("length = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Errorf("decoded[%d] = %f, want %f", i, decoded[i], vec[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector() expected error for truncated blob")
	}
}

func TestSanitizeFTS(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"login credentials", `"login" "credentials"`},
		{`exact "two words" more`, `"exact" "two words" "more"`},
		{"a AND b", `"a" "AND" "b"`},
		{`"`, ""},
		{"", ""},
		{`term*`, `"term*"`},
	}
	for _, tt := range tests {
		if got := sanitizeFTS(tt.in); got != tt.want {
			t.Errorf("sanitizeFTS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
