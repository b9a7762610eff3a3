package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// Snippet highlight markers produced by the FTS engine. The search layer
// converts them to <b> tags after escaping user content.
const (
	SnippetOpenMarker  = "[[[B]]]"
	SnippetCloseMarker = "[[[/B]]]"
)

const snippetTokens = 32

// ErrDuplicateID is returned by ImportRows when an explicit id already exists.
var ErrDuplicateID = errors.New("duplicate event id")

// EventRow is one persisted event. Content is always masked before it
// reaches this layer.
type EventRow struct {
	ID          int64  `json:"id"`
	TS          int64  `json:"ts"`
	Kind        string `json:"kind"`
	Content     string `json:"content"`
	Application string `json:"application"`
	WindowTitle string `json:"window_title"`
	CreatedAt   int64  `json:"created_at"`
}

// FTSHit is one lexical match. Rank is the raw bm25 value (negative, lower
// is better); normalization happens in the search engine.
type FTSHit struct {
	ID      int64
	Rank    float64
	Snippet string
}

// Filters narrow a query. Nil/empty fields are ignored. Application lists
// match case-insensitively on the exact name.
type Filters struct {
	From                *int64
	To                  *int64
	Applications        []string
	ExcludeApplications []string
	Kind                string
}

// where renders the filter as SQL conjuncts against the aliased events table.
func (f Filters) where(alias string) (string, []any) {
	var sb strings.Builder
	var args []any

	if f.From != nil {
		fmt.Fprintf(&sb, " AND %s.ts >= ?", alias)
		args = append(args, *f.From)
	}
	if f.To != nil {
		fmt.Fprintf(&sb, " AND %s.ts <= ?", alias)
		args = append(args, *f.To)
	}
	if f.Kind != "" {
		fmt.Fprintf(&sb, " AND %s.kind = ?", alias)
		args = append(args, f.Kind)
	}
	if len(f.Applications) > 0 {
		fmt.Fprintf(&sb, " AND LOWER(%s.application) IN (%s)", alias, placeholders(len(f.Applications)))
		for _, a := range f.Applications {
			args = append(args, strings.ToLower(a))
		}
	}
	if len(f.ExcludeApplications) > 0 {
		fmt.Fprintf(&sb, " AND LOWER(%s.application) NOT IN (%s)", alias, placeholders(len(f.ExcludeApplications)))
		for _, a := range f.ExcludeApplications {
			args = append(args, strings.ToLower(a))
		}
	}
	return sb.String(), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// InsertBatch writes one batch in a single transaction and returns the
// assigned ids in arrival order. Re-running a batch that partially reached
// the store (a commit the caller never saw) is safe: the UNIQUE
// (ts, content, application) constraint turns duplicates into lookups.
func (s *Store) InsertBatch(ctx context.Context, rows []EventRow) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events (ts, kind, content, application, window_title, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()

	lookup, err := tx.PrepareContext(ctx, `
		SELECT id FROM events WHERE ts = ? AND content = ? AND application = ?
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare lookup: %w", err)
	}
	defer lookup.Close()

	now := time.Now().UnixMilli()
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		kind := r.Kind
		if kind == "" {
			kind = "text"
		}
		createdAt := now
		if createdAt < r.TS {
			createdAt = r.TS
		}

		var id int64
		err := insert.QueryRowContext(ctx, r.TS, kind, r.Content, r.Application, r.WindowTitle, createdAt).Scan(&id)
		if err == sql.ErrNoRows {
			// Already committed by an earlier attempt.
			if err := lookup.QueryRowContext(ctx, r.TS, r.Content, r.Application).Scan(&id); err != nil {
				return nil, fmt.Errorf("lookup duplicate: %w", err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return ids, nil
}

// QueryFTS runs a lexical query against the full-text index. Returns hits
// ordered by bm25 rank plus the total match count for pagination.
func (s *Store) QueryFTS(ctx context.Context, query string, limit, offset int, f Filters) ([]FTSHit, int, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, 0, nil
	}

	cond, condArgs := f.where("e")

	q := fmt.Sprintf(`
		SELECT e.id, fts.rank, snippet(events_fts, 0, '%s', '%s', '...', %d)
		FROM events_fts fts
		JOIN events e ON e.id = fts.rowid
		WHERE events_fts MATCH ?%s
		ORDER BY fts.rank
		LIMIT ? OFFSET ?
	`, SnippetOpenMarker, SnippetCloseMarker, snippetTokens, cond)

	args := append([]any{ftsQuery}, condArgs...)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.ID, &h.Rank, &h.Snippet); err != nil {
			return nil, 0, fmt.Errorf("fts scan: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("fts rows: %w", err)
	}

	countQ := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM events_fts fts
		JOIN events e ON e.id = fts.rowid
		WHERE events_fts MATCH ?%s
	`, cond)
	var total int
	countArgs := append([]any{ftsQuery}, condArgs...)
	if err := s.db.QueryRowContext(ctx, countQ, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("fts count: %w", err)
	}

	return hits, total, nil
}

// GetByIDs fetches full rows for a set of ids.
func (s *Store) GetByIDs(ctx context.Context, ids []int64) (map[int64]EventRow, error) {
	out := make(map[int64]EventRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := fmt.Sprintf(`
		SELECT id, ts, kind, content, application, window_title, created_at
		FROM events WHERE id IN (%s)
	`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.TS, &r.Kind, &r.Content, &r.Application, &r.WindowTitle, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// ForEachEvent streams rows in id order through fn, optionally bounded by a
// ts range. fn returning an error stops the scan.
func (s *Store) ForEachEvent(ctx context.Context, from, to *int64, fn func(EventRow) error) error {
	q := `
		SELECT id, ts, kind, content, application, window_title, created_at
		FROM events WHERE 1=1
	`
	var args []any
	if from != nil {
		q += " AND ts >= ?"
		args = append(args, *from)
	}
	if to != nil {
		q += " AND ts <= ?"
		args = append(args, *to)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("scan events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.TS, &r.Kind, &r.Content, &r.Application, &r.WindowTitle, &r.CreatedAt); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ImportRows inserts rows with explicit ids in one transaction. The whole
// batch is rejected if any id already exists.
func (s *Store) ImportRows(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, ts, kind, content, application, window_title, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		kind := r.Kind
		if kind == "" {
			kind = "text"
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.TS, kind, r.Content, r.Application, r.WindowTitle, r.CreatedAt); err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: %d", ErrDuplicateID, r.ID)
			}
			return fmt.Errorf("import event %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// Stats summarizes the on-disk state.
type Stats struct {
	SizeBytes      int64            `json:"size_bytes"`
	EventCount     int64            `json:"event_count"`
	VectorCount    int64            `json:"vector_count"`
	OldestTS       int64            `json:"oldest_ts"`
	NewestTS       int64            `json:"newest_ts"`
	PerApplication map[string]int64 `json:"per_application"`
	SchemaVersion  int              `json:"schema_version"`
}

// Stats reports size, row counts, ts bounds, and per-application counts.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{PerApplication: make(map[string]int64)}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("page_size: %w", err)
	}
	st.SizeBytes = pageCount * pageSize

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(MIN(ts), 0), COALESCE(MAX(ts), 0) FROM events",
	).Scan(&st.EventCount, &st.OldestTS, &st.NewestTS); err != nil {
		return nil, fmt.Errorf("event counts: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events_vec").Scan(&st.VectorCount); err != nil {
		return nil, fmt.Errorf("vector count: %w", err)
	}

	version, err := getUserVersion(s.db)
	if err != nil {
		return nil, err
	}
	st.SchemaVersion = version

	rows, err := s.db.QueryContext(ctx, `
		SELECT application, COUNT(*) FROM events
		GROUP BY application ORDER BY COUNT(*) DESC LIMIT 50
	`)
	if err != nil {
		return nil, fmt.Errorf("per-application counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var app string
		var n int64
		if err := rows.Scan(&app, &n); err != nil {
			return nil, fmt.Errorf("scan application count: %w", err)
		}
		st.PerApplication[app] = n
	}
	return st, rows.Err()
}

// Clear deletes every event and vector, then compacts the file. Ids are not
// reset: the sequence keeps growing so ids stay monotonic for the lifetime
// of the file. Returns the number of events deleted, counted from the
// DELETE itself so rows persisted concurrently are never miscounted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events_vec"); err != nil {
		return 0, fmt.Errorf("clear vectors: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM events")
	if err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleared events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return deleted, fmt.Errorf("vacuum after clear: %w", err)
	}
	return deleted, nil
}

// Optimize consolidates the FTS index, refreshes planner statistics, and
// compacts the file. Safe to run concurrently with reads.
func (s *Store) Optimize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "INSERT INTO events_fts(events_fts) VALUES('optimize')"); err != nil {
		return fmt.Errorf("fts optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Backup writes a compacted, still-encrypted copy of the database to
// destPath. The destination must not already exist.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}
	return nil
}

// IntegrityCheck runs the integrity pragma and surfaces any corruption as a
// STORE_CORRUPT error.
func (s *Store) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return keyerrors.NewStoreCorrupt(err.Error())
	}
	if result != "ok" {
		return keyerrors.NewStoreCorrupt(result)
	}
	return nil
}

// sanitizeFTS rewrites the query as quoted terms so user input cannot
// inject FTS5 operators. Double-quoted spans survive as phrases; an
// unbalanced quote opens a phrase that runs to the end.
func sanitizeFTS(query string) string {
	var out []string
	var cur strings.Builder
	inPhrase := false

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, `"`+cur.String()+`"`)
			cur.Reset()
		}
	}

	for _, r := range query {
		switch {
		case r == '"':
			flush()
			inPhrase = !inPhrase
		case unicode.IsSpace(r) && !inPhrase:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return strings.Join(out, " ")
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
