package embed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/store"
)

// embedTimeout bounds a single backend call so a stalled server cannot
// wedge a worker.
const embedTimeout = 30 * time.Second

// Job asks for one event's content to be embedded and written to the store.
type Job struct {
	EventID int64
	Content string
}

// Pool runs a fixed number of embedding workers over a bounded queue.
// Enqueue never blocks: when the queue is full the job is dropped and
// counted, and the backfill sweep picks the event up later. The vector
// index is eventually consistent with the events table.
type Pool struct {
	store   *store.Store
	emb     Embedder
	jobs    chan Job
	workers int
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(st *store.Store, emb Embedder, workers, queueSize int, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		store:   st,
		emb:     emb,
		jobs:    make(chan Job, queueSize),
		workers: workers,
		metrics: m,
		log:     logging.Component("embed"),
	}
}

// Start launches the workers. They exit when ctx is cancelled or when
// Stop closes the queue, whichever comes first.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Enqueue offers jobs to the queue without blocking and reports how many
// were accepted. Rejected jobs are counted, not retried; the backfill
// sweep restores them.
func (p *Pool) Enqueue(jobs ...Job) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		metrics.Add(&p.metrics.EmbedJobsDropped, int64(len(jobs)))
		return 0
	}

	accepted := 0
	for _, j := range jobs {
		select {
		case p.jobs <- j:
			accepted++
		default:
			metrics.Add(&p.metrics.EmbedJobsDropped, 1)
		}
	}
	return accepted
}

// QueueDepth reports how many jobs are waiting, for health checks.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	jctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vec, err := p.emb.Embed(jctx, job.Content)
	if err != nil {
		metrics.Add(&p.metrics.EmbedFailures, 1)
		p.log.Warn().Err(err).Int64("event_id", job.EventID).Msg("embedding failed")
		return
	}
	if err := p.store.InsertEmbedding(jctx, job.EventID, p.emb.Model(), vec); err != nil {
		metrics.Add(&p.metrics.EmbedFailures, 1)
		p.log.Warn().Err(err).Int64("event_id", job.EventID).Msg("embedding write failed")
		return
	}
	metrics.Add(&p.metrics.EmbeddingsWritten, 1)
}

// Backfill embeds events that have no vector for the active model tag,
// in batches, until none remain or ctx is cancelled. It reports how many
// vectors were written. Run on startup and from optimize so dropped jobs
// and pre-existing rows catch up.
func (p *Pool) Backfill(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		pending, err := p.store.MissingEmbeddings(ctx, p.emb.Model(), batchSize)
		if err != nil {
			return written, err
		}
		if len(pending) == 0 {
			return written, nil
		}

		texts := make([]string, len(pending))
		for i, pe := range pending {
			texts[i] = pe.Content
		}
		vecs, err := p.emb.EmbedBatch(ctx, texts)
		if err != nil {
			metrics.Add(&p.metrics.EmbedFailures, 1)
			return written, err
		}
		for i, pe := range pending {
			if err := p.store.InsertEmbedding(ctx, pe.EventID, p.emb.Model(), vecs[i]); err != nil {
				metrics.Add(&p.metrics.EmbedFailures, 1)
				return written, err
			}
			metrics.Add(&p.metrics.EmbeddingsWritten, 1)
			written++
		}
		if len(pending) < batchSize {
			return written, nil
		}
	}
}
