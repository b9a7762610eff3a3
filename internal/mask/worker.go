package mask

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/metrics"
)

// Worker runs the redaction stage: it consumes keystrokes, coalesces
// them into runs, masks each completed chunk, and forwards the result.
// Exactly one goroutine owns the chunker.
type Worker struct {
	masker  *Masker
	chunker *Chunker

	// idle is how long an open run may sit without input before it is
	// closed and emitted.
	idle time.Duration

	metrics *metrics.Metrics
	log     zerolog.Logger
	done    chan struct{}
}

// NewWorker builds a mask worker. maxChunkLen <= 0 uses DefaultChunkLen.
func NewWorker(masker *Masker, maxChunkLen int, idle time.Duration, m *metrics.Metrics) *Worker {
	return &Worker{
		masker:  masker,
		chunker: NewChunker(maxChunkLen),
		idle:    idle,
		metrics: m,
		log:     logging.Component("mask"),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. It runs until in is closed, then
// flushes the open run and closes out, so the persist stage sees every
// event and an orderly end of stream. Sends to out block; back-pressure
// propagates upstream to the capture seam.
func (w *Worker) Start(ctx context.Context, in <-chan Keystroke, out chan<- Event) {
	go w.run(ctx, in, out)
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) run(ctx context.Context, in <-chan Keystroke, out chan<- Event) {
	defer close(w.done)
	defer close(out)

	ticker := time.NewTicker(w.idle)
	defer ticker.Stop()

	for {
		select {
		case k, ok := <-in:
			if !ok {
				if ch, open := w.chunker.Flush(); open {
					w.emit(ctx, ch, out)
				}
				return
			}
			for _, ch := range w.chunker.Add(k) {
				if !w.emit(ctx, ch, out) {
					return
				}
			}
		case <-ticker.C:
			now := time.Now().UnixMilli()
			if ch, open := w.chunker.FlushIfIdle(now, w.idle.Milliseconds()); open {
				if !w.emit(ctx, ch, out) {
					return
				}
			}
		case <-ctx.Done():
			// Forced stop: the open run is dropped unmasked rather than
			// written anywhere.
			return
		}
	}
}

// emit masks one chunk and sends it downstream. Chunks the masker
// rejects (over the size limit) are logged without content and dropped.
func (w *Worker) emit(ctx context.Context, ch Chunk, out chan<- Event) bool {
	ev, err := w.masker.MaskChunk(ch)
	if err != nil {
		w.log.Warn().Err(err).Str("kind", ch.Kind).Msg("chunk rejected by mask stage")
		return true
	}
	metrics.Add(&w.metrics.EventsMasked, 1)
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
