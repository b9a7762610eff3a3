// Package persist batches masked events and writes them to the store.
//
// The worker owns the tail of the pipeline: it collects events from the
// mask stage until a batch fills or the flush interval elapses, writes
// the batch in one transaction, and retries transient failures with
// exponential backoff. A batch that exhausts its retries goes to the
// dead-letter directory instead of being lost; the worker keeps
// accepting batches afterwards.
package persist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/mask"
	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/store"
)

const (
	// maxRetries is how many times a failed batch write is retried
	// before the batch is dead-lettered.
	maxRetries = 3

	// retryBaseDelay is the first backoff; it doubles per retry.
	retryBaseDelay = 100 * time.Millisecond
)

// Sink is the write path the worker persists batches through.
// *store.Store satisfies it; tests substitute failures.
type Sink interface {
	InsertBatch(ctx context.Context, rows []store.EventRow) ([]int64, error)
}

// Worker drains the mask stage into the store.
type Worker struct {
	sink          Sink
	dl            *DeadLetter
	batchSize     int
	flushInterval time.Duration
	metrics       *metrics.Metrics
	log           zerolog.Logger

	// onStored is called after a successful write with the assigned ids,
	// aligned index-for-index with the rows. The pipeline uses it to
	// enqueue embedding jobs.
	onStored func(ids []int64, rows []store.EventRow)

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// NewWorker creates a persist worker. dl may be nil, in which case
// exhausted batches are dropped with an error log.
func NewWorker(sink Sink, dl *DeadLetter, batchSize int, flushInterval time.Duration, m *metrics.Metrics) *Worker {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Worker{
		sink:          sink,
		dl:            dl,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metrics:       m,
		log:           logging.Component("persist"),
	}
}

// OnStored registers the post-write callback. Must be called before Start.
func (w *Worker) OnStored(fn func(ids []int64, rows []store.EventRow)) {
	w.onStored = fn
}

// Start launches the worker over the input channel. The worker exits
// when in closes (orderly stop, remaining batch written) or when ctx is
// cancelled (forced stop, remaining batch dead-lettered if the store
// cannot take it in time).
func (w *Worker) Start(ctx context.Context, in <-chan mask.Event) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx, in)
}

// Stop cancels the worker and waits for it to finish. Orderly shutdown
// closes the input channel first so the final batch lands in the store.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	w.wg.Wait()
}

// Wait blocks until the worker goroutine exits.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, in <-chan mask.Event) {
	defer w.wg.Done()

	batch := make([]store.EventRow, 0, w.batchSize)
	timer := time.NewTimer(w.flushInterval)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.flushInterval)
	}

	flush := func() {
		if len(batch) > 0 {
			w.write(ctx, batch)
			batch = make([]store.EventRow, 0, w.batchSize)
		}
		reset()
	}

	for {
		select {
		case <-ctx.Done():
			// Forced stop: pull whatever is already buffered so it is
			// written or dead-lettered rather than lost.
		drain:
			for {
				select {
				case ev, ok := <-in:
					if !ok {
						break drain
					}
					batch = append(batch, rowFromEvent(ev))
				default:
					break drain
				}
			}
			flush()
			return

		case ev, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rowFromEvent(ev))
			if len(batch) >= w.batchSize {
				flush()
			}

		case <-timer.C:
			flush()
		}
	}
}

// write persists one batch, retrying with exponential backoff. The batch
// stays in memory across retries; after the last failure it goes to the
// dead letter.
func (w *Worker) write(ctx context.Context, rows []store.EventRow) {
	backoff := retryBaseDelay
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.Add(&w.metrics.BatchRetriesTotal, 1)
			select {
			case <-ctx.Done():
				// No time left to retry; preserve the batch.
				w.deadLetter(rows, ctx.Err())
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		ids, err := w.sink.InsertBatch(ctx, rows)
		if err == nil {
			metrics.Add(&w.metrics.EventsStored, int64(len(ids)))
			metrics.Add(&w.metrics.BatchesPersisted, 1)
			if w.onStored != nil {
				w.onStored(ids, rows)
			}
			return
		}

		lastErr = err
		terr := keyerrors.NewStoreTransient(err)
		w.log.Warn().Err(terr).Int("attempt", attempt+1).Int("events", len(rows)).
			Msg("batch write failed")
	}

	w.deadLetter(rows, lastErr)
}

func (w *Worker) deadLetter(rows []store.EventRow, cause error) {
	perr := keyerrors.NewStorePersistent(maxRetries+1, cause)
	w.log.Error().Err(perr).Int("events", len(rows)).Msg("batch write retries exhausted")

	if w.dl == nil {
		w.log.Error().Int("events", len(rows)).Msg("no dead letter configured, batch lost")
		return
	}
	if err := w.dl.Save(rows); err != nil {
		w.log.Error().Err(err).Int("events", len(rows)).Msg("dead-letter write failed, batch lost")
	}
}

func rowFromEvent(ev mask.Event) store.EventRow {
	return store.EventRow{
		TS:          ev.TS,
		Kind:        ev.Kind,
		Content:     ev.Content,
		Application: ev.Application,
		WindowTitle: ev.WindowTitle,
	}
}
