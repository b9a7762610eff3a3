package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"
)

// VecHit is one semantic match.
type VecHit struct {
	ID     int64
	Cosine float64
}

// PendingEmbedding is an event still missing a vector for a model tag.
type PendingEmbedding struct {
	EventID int64
	Content string
}

// InsertEmbedding writes (or replaces) the vector for an event. Vectors are
// stored as little-endian float32, one embedding per event.
func (s *Store) InsertEmbedding(ctx context.Context, eventID int64, modelTag string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events_vec (event_id, model_tag, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, eventID, modelTag, len(vec), EncodeVector(vec), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// Embedding fetches the stored vector for an event, if any.
func (s *Store) Embedding(ctx context.Context, eventID int64) ([]float32, string, bool, error) {
	var blob []byte
	var tag string
	err := s.db.QueryRowContext(ctx,
		"SELECT vector, model_tag FROM events_vec WHERE event_id = ?", eventID,
	).Scan(&blob, &tag)
	if err == sql.ErrNoRows {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("get embedding: %w", err)
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return nil, "", false, err
	}
	return vec, tag, true, nil
}

// QueryVec returns the nearest neighbours of qvec by cosine similarity,
// restricted to vectors carrying modelTag. Hits below threshold are
// dropped. The scan is brute-force over the vector table; both query and
// stored vectors are unit-norm, so cosine reduces to a dot product.
func (s *Store) QueryVec(ctx context.Context, qvec []float32, modelTag string, limit int, threshold float64, f Filters) ([]VecHit, error) {
	cond, condArgs := f.where("e")

	q := `
		SELECT v.event_id, v.vector
		FROM events_vec v
		JOIN events e ON e.id = v.event_id
		WHERE v.model_tag = ?` + cond

	args := append([]any{modelTag}, condArgs...)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vec query: %w", err)
	}
	defer rows.Close()

	var hits []VecHit
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("vec scan: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil || len(vec) != len(qvec) {
			continue
		}
		cos := dot(qvec, vec)
		if cos >= threshold {
			hits = append(hits, VecHit{ID: id, Cosine: cos})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vec rows: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Cosine != hits[j].Cosine {
			return hits[i].Cosine > hits[j].Cosine
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// MissingEmbeddings returns text events that have no vector for modelTag,
// oldest first. Used by the backfill sweep.
func (s *Store) MissingEmbeddings(ctx context.Context, modelTag string, limit int) ([]PendingEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.content
		FROM events e
		LEFT JOIN events_vec v ON v.event_id = e.id AND v.model_tag = ?
		WHERE v.event_id IS NULL AND e.kind = 'text'
		ORDER BY e.id
		LIMIT ?
	`, modelTag, limit)
	if err != nil {
		return nil, fmt.Errorf("missing embeddings: %w", err)
	}
	defer rows.Close()

	var out []PendingEmbedding
	for rows.Next() {
		var p PendingEmbedding
		if err := rows.Scan(&p.EventID, &p.Content); err != nil {
			return nil, fmt.Errorf("scan pending embedding: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountEmbeddings counts stored vectors for a model tag.
func (s *Store) CountEmbeddings(ctx context.Context, modelTag string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events_vec WHERE model_tag = ?", modelTag,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// EncodeVector packs a vector as little-endian float32.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 blob.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
