// Package metrics holds the pipeline's lock-free counters.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Metrics is the set of counters exposed by get_metrics. All fields are
// updated with atomic operations; the hook path never takes a lock.
type Metrics struct {
	// Capture.
	EventsCaptured    int64
	EventsDroppedHook int64 // drop-oldest at the hook seam; the only sanctioned loss
	EventsFiltered    int64
	HookRestarts      int64
	WindowProbeErrors int64
	LastEventTS       int64 // unix ms, gauge

	// Mask.
	EventsMasked         int64
	PatternHitsTotal     int64
	PatternsDisabled     int64
	MaskRejectedTooLarge int64

	// Persist.
	EventsStored      int64
	BatchesPersisted  int64
	BatchRetriesTotal int64

	// Dead letter.
	DeadLetterBatches  int64
	DeadLetterEvents   int64
	DeadLetterReplayed int64
	DeadLetterExpired  int64
	DeadLetterFiles    int64 // gauge
	DeadLetterBytes    int64 // gauge

	// Embedding.
	EmbeddingsWritten int64
	EmbedFailures     int64
	EmbedJobsDropped  int64

	// Search.
	SearchesTotal  int64
	SearchTimeouts int64
}

func New() *Metrics {
	return &Metrics{}
}

// Add atomically increments a counter field.
func Add(field *int64, delta int64) {
	atomic.AddInt64(field, delta)
}

// Load atomically reads a counter field.
func Load(field *int64) int64 {
	return atomic.LoadInt64(field)
}

// Store atomically sets a gauge field.
func Store(field *int64, v int64) {
	atomic.StoreInt64(field, v)
}

// Snapshot returns all counters as a name -> value map.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"events_captured":         atomic.LoadInt64(&m.EventsCaptured),
		"events_dropped_hook":     atomic.LoadInt64(&m.EventsDroppedHook),
		"events_filtered":         atomic.LoadInt64(&m.EventsFiltered),
		"hook_restarts":           atomic.LoadInt64(&m.HookRestarts),
		"window_probe_errors":     atomic.LoadInt64(&m.WindowProbeErrors),
		"last_event_ts":           atomic.LoadInt64(&m.LastEventTS),
		"events_masked":           atomic.LoadInt64(&m.EventsMasked),
		"pattern_hits_total":      atomic.LoadInt64(&m.PatternHitsTotal),
		"patterns_disabled":       atomic.LoadInt64(&m.PatternsDisabled),
		"mask_rejected_too_large": atomic.LoadInt64(&m.MaskRejectedTooLarge),
		"events_stored":           atomic.LoadInt64(&m.EventsStored),
		"batches_persisted":       atomic.LoadInt64(&m.BatchesPersisted),
		"batch_retries_total":     atomic.LoadInt64(&m.BatchRetriesTotal),
		"dead_letter_batches":     atomic.LoadInt64(&m.DeadLetterBatches),
		"dead_letter_events":      atomic.LoadInt64(&m.DeadLetterEvents),
		"dead_letter_replayed":    atomic.LoadInt64(&m.DeadLetterReplayed),
		"dead_letter_expired":     atomic.LoadInt64(&m.DeadLetterExpired),
		"dead_letter_files":       atomic.LoadInt64(&m.DeadLetterFiles),
		"dead_letter_bytes":       atomic.LoadInt64(&m.DeadLetterBytes),
		"embeddings_written":      atomic.LoadInt64(&m.EmbeddingsWritten),
		"embed_failures":          atomic.LoadInt64(&m.EmbedFailures),
		"embed_jobs_dropped":      atomic.LoadInt64(&m.EmbedJobsDropped),
		"searches_total":          atomic.LoadInt64(&m.SearchesTotal),
		"search_timeouts":         atomic.LoadInt64(&m.SearchTimeouts),
	}
}

// String renders the counters as sorted key=value lines for logging.
func (m *Metrics) String() string {
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.Grow(512)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%d\n", k, snap[k])
	}
	return sb.String()
}
