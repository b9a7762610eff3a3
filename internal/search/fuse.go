package search

import (
	"sort"

	"github.com/hpungsan/keyai/internal/store"
)

// fusedHit is one event id with its reciprocal-rank-fusion score.
type fusedHit struct {
	id    int64
	score float64
}

// fuseRRF combines two ranked id lists. Each list contributes
// w/(k+rank) with 1-based ranks; an id absent from a list contributes
// nothing for that list. The output is unordered; sortFused applies the
// deterministic ordering once timestamps are known.
func fuseRRF(textIDs, semIDs []int64, wt, ws float64, k int) []fusedHit {
	scores := make(map[int64]float64, len(textIDs)+len(semIDs))
	for i, id := range textIDs {
		scores[id] += wt / float64(k+i+1)
	}
	for i, id := range semIDs {
		scores[id] += ws / float64(k+i+1)
	}

	fused := make([]fusedHit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, fusedHit{id: id, score: score})
	}
	return fused
}

// sortFused orders hits by score descending, breaking ties by ascending
// event id and then ascending timestamp.
func sortFused(fused []fusedHit, rows map[int64]store.EventRow) {
	sort.Slice(fused, func(i, j int) bool {
		a, b := fused[i], fused[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.id != b.id {
			return a.id < b.id
		}
		return rows[a.id].TS < rows[b.id].TS
	})
}
