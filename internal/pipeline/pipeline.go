// Package pipeline assembles and supervises the capture-mask-persist
// chain plus the shared read path (store, search engine, embedding
// pool). One Pipeline instance backs every command surface.
package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/keyai/internal/capture"
	"github.com/hpungsan/keyai/internal/config"
	"github.com/hpungsan/keyai/internal/embed"
	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/mask"
	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/persist"
	"github.com/hpungsan/keyai/internal/search"
	"github.com/hpungsan/keyai/internal/store"
)

// stopDeadline bounds an orderly capture stop before the stages are
// cancelled outright.
const stopDeadline = 10 * time.Second

// backfillBatchSize is the sweep batch for events missing a vector.
const backfillBatchSize = 64

// Pipeline owns every long-lived component. The store, masker, search
// engine, and embedding pool live for the process; the capture chain
// (agent, mask worker, persist worker) exists only while capturing.
type Pipeline struct {
	baseDir string
	cfg     atomic.Pointer[config.Config]

	store    *store.Store
	masker   *mask.Masker
	engine   *search.Engine
	embedder embed.Embedder
	pool     *embed.Pool
	dl       *persist.DeadLetter
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// NewSource and NewProber build the platform hook and window probe.
	// Overridable before StartCapture; tests inject scripted doubles.
	NewSource func() (capture.EventSource, error)
	NewProber func() capture.WindowProber

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	// replayKick wakes the background replayer after a successful flush
	// proves the store is writable again.
	replayKick chan struct{}

	mu            sync.Mutex
	capturing     bool
	agent         *capture.Agent
	maskWorker    *mask.Worker
	persistWorker *persist.Worker
	chainCancel   context.CancelFunc
	startedAt     time.Time
	captureSince  time.Time
}

// New opens the store and builds the process-wide components. Capture
// does not start until StartCapture.
func New(baseDir string, cfg *config.Config) (*Pipeline, error) {
	m := metrics.New()

	st, err := store.Open(baseDir, cfg.DatabaseKey)
	if err != nil {
		return nil, err
	}

	embedder, err := embed.New(embed.Config{
		Provider:  cfg.EmbeddingProvider,
		ModelTag:  cfg.EmbeddingModelTag,
		Endpoint:  cfg.EmbeddingEndpoint,
		Dimension: cfg.EmbeddingDimension,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	dlDir := cfg.DeadLetterDir
	if dlDir == "" {
		dlDir = filepath.Join(baseDir, "deadletter")
	}
	dl, err := persist.OpenDeadLetter(dlDir, cfg.DeadLetterMaxBytes, m)
	if err != nil {
		st.Close()
		return nil, err
	}

	p := &Pipeline{
		baseDir:    baseDir,
		store:      st,
		masker:     mask.New(m),
		engine:     search.NewEngine(st, embedder, cfg.RRFK, cfg.SuggestionCapacity, m),
		embedder:   embedder,
		pool:       embed.NewPool(st, embedder, cfg.EmbedWorkers, cfg.EmbedQueueSize, m),
		dl:         dl,
		metrics:    m,
		log:        logging.Component("pipeline"),
		NewSource:  capture.NewPlatformSource,
		NewProber:  capture.NewPlatformProber,
		replayKick: make(chan struct{}, 1),
		startedAt:  time.Now(),
	}
	p.cfg.Store(cfg)

	bgCtx, cancel := context.WithCancel(context.Background())
	p.bgCancel = cancel
	p.pool.Start(bgCtx)

	p.bgWG.Add(1)
	go p.background(bgCtx)

	return p, nil
}

// background runs the startup catch-up work and then services replay
// kicks: vectors for events embedded before a crash, and dead-letter
// batches once the store proves writable.
func (p *Pipeline) background(ctx context.Context) {
	defer p.bgWG.Done()

	if n, err := p.pool.Backfill(ctx, backfillBatchSize); err != nil {
		p.log.Warn().Err(err).Msg("startup embedding backfill stopped early")
	} else if n > 0 {
		p.log.Info().Int("vectors", n).Msg("embedding backfill caught up")
	}

	if files, _ := p.dl.Size(); files > 0 {
		p.kickReplay()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.replayKick:
			n, err := p.dl.Replay(ctx, p.store)
			if err != nil {
				p.log.Warn().Err(err).Int("events", n).Msg("dead-letter replay stopped")
				continue
			}
			if n > 0 {
				p.log.Info().Int("events", n).Msg("dead-letter batches replayed")
			}
		}
	}
}

func (p *Pipeline) kickReplay() {
	select {
	case p.replayKick <- struct{}{}:
	default:
	}
}

// StartCapture builds and starts the capture chain. Idempotent.
func (p *Pipeline) StartCapture(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capturing {
		return nil
	}

	cfg := p.cfg.Load()
	src, err := p.NewSource()
	if err != nil {
		return err
	}
	prober := p.NewProber()

	agent, err := capture.NewAgent(src, prober, cfg, p.metrics)
	if err != nil {
		return err
	}
	agent.OnFatal(func(err error) {
		p.log.Error().Err(err).Msg("keyboard hook lost, stopping capture")
		go func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), stopDeadline)
			defer cancel()
			if serr := p.StopCapture(stopCtx); serr != nil {
				p.log.Error().Err(serr).Msg("stop after hook loss failed")
			}
		}()
	})

	chainCtx, cancel := context.WithCancel(context.Background())
	capToMask := make(chan mask.Keystroke, cfg.BufferSize)
	maskToPersist := make(chan mask.Event, cfg.BufferSize)

	maskWorker := mask.NewWorker(p.masker, 0, cfg.FlushInterval(), p.metrics)
	persistWorker := persist.NewWorker(p.store, p.dl, cfg.MaxEventsPerFlush, cfg.FlushInterval(), p.metrics)
	persistWorker.OnStored(p.onStored)

	persistWorker.Start(chainCtx, maskToPersist)
	maskWorker.Start(chainCtx, capToMask, maskToPersist)

	if err := agent.Start(ctx, capToMask); err != nil {
		// Unwind the downstream stages through an orderly close.
		close(capToMask)
		maskWorker.Wait()
		persistWorker.Wait()
		cancel()
		return err
	}

	p.agent = agent
	p.maskWorker = maskWorker
	p.persistWorker = persistWorker
	p.chainCancel = cancel
	p.capturing = true
	p.captureSince = time.Now()
	p.log.Info().Msg("capture pipeline started")
	return nil
}

// StopCapture performs an orderly stop: the agent closes its output,
// the mask worker flushes the open run, the persist worker writes the
// final batch. If the chain does not drain before ctx expires it is
// cancelled; the persist worker then dead-letters what it holds.
func (p *Pipeline) StopCapture(ctx context.Context) error {
	p.mu.Lock()
	if !p.capturing {
		p.mu.Unlock()
		return nil
	}
	agent := p.agent
	maskWorker := p.maskWorker
	persistWorker := p.persistWorker
	cancel := p.chainCancel
	p.capturing = false
	p.agent = nil
	p.maskWorker = nil
	p.persistWorker = nil
	p.chainCancel = nil
	p.mu.Unlock()

	stopErr := agent.Stop(ctx)

	drained := make(chan struct{})
	go func() {
		maskWorker.Wait()
		persistWorker.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		p.log.Warn().Msg("capture drain deadline elapsed, forcing stop")
		cancel()
		<-drained
	}
	cancel()
	p.log.Info().Msg("capture pipeline stopped")
	return stopErr
}

// onStored runs after each successful batch write: text rows are queued
// for embedding, and a pending dead-letter backlog gets a replay chance
// now that the store demonstrably accepts writes.
func (p *Pipeline) onStored(ids []int64, rows []store.EventRow) {
	jobs := make([]embed.Job, 0, len(ids))
	for i, id := range ids {
		if rows[i].Kind == mask.KindText && rows[i].Content != "" {
			jobs = append(jobs, embed.Job{EventID: id, Content: rows[i].Content})
		}
	}
	if len(jobs) > 0 {
		p.pool.Enqueue(jobs...)
	}
	if files, _ := p.dl.Size(); files > 0 {
		p.kickReplay()
	}
}

// Capturing reports whether the capture chain is running.
func (p *Pipeline) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturing && p.agent != nil && p.agent.IsRunning()
}

// CurrentWindow returns the freshest window snapshot, zero when capture
// is stopped.
func (p *Pipeline) CurrentWindow() capture.WindowContext {
	p.mu.Lock()
	agent := p.agent
	p.mu.Unlock()
	if agent == nil {
		return capture.WindowContext{}
	}
	return agent.CurrentWindow()
}

// CaptureState returns the agent's lifecycle state and last fatal error.
func (p *Pipeline) CaptureState() (string, error) {
	p.mu.Lock()
	agent := p.agent
	p.mu.Unlock()
	if agent == nil {
		return capture.Stopped.String(), nil
	}
	st, err := agent.Status()
	return st.String(), err
}

// UpdateConfig validates and publishes a new configuration. Capture
// filters and probe cadence apply live; fields wired at construction
// (database key, buffer sizes, embedding backend) take effect on the
// next process start and are reported by the ops layer.
func (p *Pipeline) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	agent := p.agent
	p.mu.Unlock()
	if agent != nil {
		if err := agent.UpdateConfig(cfg); err != nil {
			return err
		}
	}
	p.cfg.Store(cfg)
	p.log.Info().Msg("configuration updated")
	return nil
}

// Config returns the current configuration snapshot.
func (p *Pipeline) Config() *config.Config { return p.cfg.Load() }

// Accessors for the command surfaces.
func (p *Pipeline) Store() *store.Store           { return p.store }
func (p *Pipeline) Engine() *search.Engine        { return p.engine }
func (p *Pipeline) Masker() *mask.Masker          { return p.masker }
func (p *Pipeline) Metrics() *metrics.Metrics     { return p.metrics }
func (p *Pipeline) DeadLetter() *persist.DeadLetter { return p.dl }
func (p *Pipeline) BaseDir() string               { return p.baseDir }
func (p *Pipeline) StartedAt() time.Time          { return p.startedAt }

// CaptureSince reports when the current capture session began, zero when
// stopped.
func (p *Pipeline) CaptureSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.capturing {
		return time.Time{}
	}
	return p.captureSince
}

// EmbedQueueDepth reports pending embedding jobs, for health checks.
func (p *Pipeline) EmbedQueueDepth() int { return p.pool.QueueDepth() }

// ReplayDeadLetter pushes stored batches back into the store now.
func (p *Pipeline) ReplayDeadLetter(ctx context.Context) (int, error) {
	return p.dl.Replay(ctx, p.store)
}

// Backfill embeds events missing a vector for the active model tag.
func (p *Pipeline) Backfill(ctx context.Context) (int, error) {
	return p.pool.Backfill(ctx, backfillBatchSize)
}

// Close stops capture, drains the embedding pool, and closes the store.
func (p *Pipeline) Close(ctx context.Context) error {
	stopErr := p.StopCapture(ctx)
	p.bgCancel()
	p.bgWG.Wait()
	p.pool.Stop()
	if err := p.store.Close(); err != nil {
		return err
	}
	return stopErr
}
