// Package capture owns the head of the pipeline: the keyboard hook, the
// active-window probe, and the worker that classifies, filters, and
// forwards events to the mask stage.
package capture

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/keyai/internal/config"
	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/keys"
	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/mask"
	"github.com/hpungsan/keyai/internal/metrics"
)

// hookQueueCap bounds the hook-to-worker queue. The hook side never
// blocks: when the queue is full the oldest event is dropped and
// counted. This is the only place the pipeline is allowed to lose data.
const hookQueueCap = 1024

// hookRestartCooldown is the pause before the single automatic hook
// restart attempt.
const hookRestartCooldown = 500 * time.Millisecond

// State is the agent lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// filterSet is the compiled, immutable view of the capture-relevant
// configuration. The worker reads it through an atomic pointer so
// update_config never blocks the event path.
type filterSet struct {
	ignoredApps         []string
	ignoredTitles       []*regexp.Regexp
	captureModifiers    bool
	captureFunctionKeys bool
	windowInterval      time.Duration
}

func compileFilters(cfg *config.Config) (*filterSet, error) {
	titles, err := cfg.CompileWindowPatterns()
	if err != nil {
		return nil, err
	}
	apps := make([]string, 0, len(cfg.IgnoredApplications))
	for _, a := range cfg.IgnoredApplications {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			apps = append(apps, a)
		}
	}
	return &filterSet{
		ignoredApps:         apps,
		ignoredTitles:       titles,
		captureModifiers:    cfg.CaptureModifiers,
		captureFunctionKeys: cfg.CaptureFunctionKeys,
		windowInterval:      cfg.WindowUpdateInterval(),
	}, nil
}

// Agent binds the hook and runs the capture worker. It owns the hook
// exclusively; Stop releases it on every exit path.
type Agent struct {
	source  EventSource
	prober  WindowProber
	metrics *metrics.Metrics
	log     zerolog.Logger

	filters atomic.Pointer[filterSet]
	window  atomic.Pointer[WindowContext]

	// onFatal is invoked at most once, off the hook thread, when the
	// hook dies twice. Set before Start.
	onFatal func(error)

	mu      sync.Mutex
	state   State
	lastErr error
	cancel  context.CancelFunc
	hookQ   chan keys.RawKeyEvent
	out     chan<- mask.Keystroke
	wg      sync.WaitGroup
}

// NewAgent creates a capture agent over an event source and a window
// prober. The configuration must already be validated.
func NewAgent(src EventSource, prober WindowProber, cfg *config.Config, m *metrics.Metrics) (*Agent, error) {
	fs, err := compileFilters(cfg)
	if err != nil {
		return nil, err
	}
	a := &Agent{
		source:  src,
		prober:  prober,
		metrics: m,
		log:     logging.Component("capture"),
	}
	a.filters.Store(fs)
	a.window.Store(&WindowContext{})
	return a, nil
}

// OnFatal registers the unrecoverable-failure callback. Must be called
// before Start.
func (a *Agent) OnFatal(fn func(error)) { a.onFatal = fn }

// Start binds the hook and launches the hook, window-probe, and worker
// goroutines. Idempotent: starting a running agent is a no-op success.
// Captured events flow into out; the agent closes out after the worker
// drains on stop, so the mask stage sees an orderly end of stream.
func (a *Agent) Start(ctx context.Context, out chan<- mask.Keystroke) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case Running, Starting:
		return nil
	case Stopping:
		return fmt.Errorf("capture agent is stopping")
	}
	a.state = Starting
	a.lastErr = nil

	if err := a.source.Open(); err != nil {
		a.state = Stopped
		a.lastErr = err
		return err
	}

	// First snapshot before any event can be dequeued; failure is
	// non-fatal, events just carry an empty context until a probe lands.
	if win, err := a.prober.Probe(ctx); err == nil {
		a.window.Store(&win)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.hookQ = make(chan keys.RawKeyEvent, hookQueueCap)
	a.out = out

	a.wg.Add(3)
	go a.hookLoop(runCtx)
	go a.probeLoop(runCtx)
	go a.workerLoop(runCtx)

	a.state = Running
	a.log.Info().Msg("capture started")
	return nil
}

// Stop signals shutdown and waits for the goroutines to finish, up to
// the context deadline. The hook is released even when the deadline
// expires; only the wait is bounded.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != Running {
		a.mu.Unlock()
		return nil
	}
	a.state = Stopping
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	_ = a.source.Close()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = keyerrors.NewTimeout("capture stop")
		a.log.Warn().Msg("capture stop deadline elapsed before workers joined")
	}

	a.mu.Lock()
	a.state = Stopped
	a.mu.Unlock()
	a.log.Info().Msg("capture stopped")
	return err
}

// IsRunning reports whether the agent is in the Running state.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == Running
}

// Status returns the lifecycle state and the last fatal error, if any.
func (a *Agent) Status() (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state, a.lastErr
}

// CurrentWindow returns the freshest window snapshot.
func (a *Agent) CurrentWindow() WindowContext {
	return *a.window.Load()
}

// UpdateConfig swaps in a new filter set. Takes effect for the next
// dequeued event; in-flight events keep the snapshot they were
// classified under.
func (a *Agent) UpdateConfig(cfg *config.Config) error {
	fs, err := compileFilters(cfg)
	if err != nil {
		return err
	}
	a.filters.Store(fs)
	return nil
}

// enqueue is the emit path called from the hook thread. Never blocks:
// on a full queue the oldest event is dropped and counted.
func (a *Agent) enqueue(ev keys.RawKeyEvent) {
	select {
	case a.hookQ <- ev:
		return
	default:
	}
	select {
	case <-a.hookQ:
		metrics.Add(&a.metrics.EventsDroppedHook, 1)
	default:
	}
	select {
	case a.hookQ <- ev:
	default:
		metrics.Add(&a.metrics.EventsDroppedHook, 1)
	}
}

// hookLoop runs the event source, restarting it once after a cooldown
// if it dies. A second death is fatal: the error is recorded and the
// registered callback fires. The queue is closed on exit so the worker
// drains and finishes.
func (a *Agent) hookLoop(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.hookQ)

	restarts := 0
	for {
		err := a.runHook(ctx)
		if ctx.Err() != nil {
			return
		}
		if restarts >= 1 {
			a.log.Error().Err(err).Msg("hook failed after restart, giving up")
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
			if a.onFatal != nil {
				a.onFatal(err)
			}
			return
		}
		restarts++
		metrics.Add(&a.metrics.HookRestarts, 1)
		a.log.Warn().Err(err).Msg("hook died, restarting once")

		select {
		case <-ctx.Done():
			return
		case <-time.After(hookRestartCooldown):
		}
		if err := a.source.Open(); err != nil {
			a.mu.Lock()
			a.lastErr = err
			a.mu.Unlock()
			if a.onFatal != nil {
				a.onFatal(err)
			}
			return
		}
	}
}

// runHook invokes the blocking source, converting a panic into an error
// so the restart policy applies uniformly.
func (a *Agent) runHook(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return a.source.Run(ctx, a.enqueue)
}

// probeLoop samples the active window on the configured cadence. Errors
// are counted and the stale snapshot is carried forward.
func (a *Agent) probeLoop(ctx context.Context) {
	defer a.wg.Done()

	interval := a.filters.Load().windowInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			win, err := a.prober.Probe(ctx)
			if err != nil {
				metrics.Add(&a.metrics.WindowProbeErrors, 1)
				continue
			}
			a.window.Store(&win)

			if next := a.filters.Load().windowInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// workerLoop drains the hook queue, pairs each event with the freshest
// window snapshot, classifies and filters it, and forwards keystrokes
// to the mask stage. The send blocks when the mask channel is full;
// back-pressure then builds in the hook queue, where drop-oldest
// applies.
func (a *Agent) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.out)

	for ev := range a.hookQ {
		metrics.Add(&a.metrics.EventsCaptured, 1)
		metrics.Store(&a.metrics.LastEventTS, ev.TS)

		k, ok := a.classify(ev)
		if !ok {
			metrics.Add(&a.metrics.EventsFiltered, 1)
			continue
		}

		select {
		case a.out <- k:
		case <-ctx.Done():
			// Forced stop with the mask stage already gone; remaining
			// queued events are dropped on the floor by the drain below.
			for range a.hookQ {
				metrics.Add(&a.metrics.EventsFiltered, 1)
			}
			return
		}
	}
}

// classify applies the filtering policy and renders the event as a
// keystroke for the mask stage. The returned bool is false when the
// event is dropped.
func (a *Agent) classify(ev keys.RawKeyEvent) (mask.Keystroke, bool) {
	// Only insertion-producing presses flow downstream.
	if ev.Kind == keys.Release {
		return mask.Keystroke{}, false
	}

	fs := a.filters.Load()
	win := a.window.Load()

	app := strings.ToLower(win.Application)
	for _, ignored := range fs.ignoredApps {
		if strings.Contains(app, ignored) {
			return mask.Keystroke{}, false
		}
	}
	for _, re := range fs.ignoredTitles {
		if re.MatchString(win.Title) {
			return mask.Keystroke{}, false
		}
	}

	name := keys.Name(ev.Code)
	isModifier := keys.IsModifier(name)
	isFunction := keys.IsFunction(name)

	if isModifier && !fs.captureModifiers {
		return mask.Keystroke{}, false
	}
	if isFunction && !fs.captureFunctionKeys {
		return mask.Keystroke{}, false
	}

	fragment, _ := keys.Fragment(name)
	return mask.Keystroke{
		TS:          ev.TS,
		Key:         name,
		Fragment:    fragment,
		EmitKey:     isModifier || isFunction,
		Application: win.Application,
		WindowTitle: win.Title,
	}, true
}
