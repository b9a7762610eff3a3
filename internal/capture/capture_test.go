package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hpungsan/keyai/internal/config"
	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/keys"
	"github.com/hpungsan/keyai/internal/mask"
	"github.com/hpungsan/keyai/internal/metrics"
)

func press(ts int64, code uint16) keys.RawKeyEvent {
	return keys.RawKeyEvent{TS: ts, Code: code, Kind: keys.Press}
}

func release(ts int64, code uint16) keys.RawKeyEvent {
	return keys.RawKeyEvent{TS: ts, Code: code, Kind: keys.Release}
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WindowUpdateIntervalMS = 50
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func collect(t *testing.T, out <-chan mask.Keystroke, n int) []mask.Keystroke {
	t.Helper()
	var got []mask.Keystroke
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case k, ok := <-out:
			if !ok {
				t.Fatalf("channel closed after %d of %d keystrokes", len(got), n)
			}
			got = append(got, k)
		case <-deadline:
			t.Fatalf("timed out after %d of %d keystrokes", len(got), n)
		}
	}
	return got
}

func stopAgent(t *testing.T, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestAgentForwardsPrintableKeys(t *testing.T) {
	src := &ScriptedSource{Events: []keys.RawKeyEvent{
		press(100, 35), release(110, 35), // h
		press(120, 23), release(130, 23), // i
	}}
	prober := &StaticProber{Window: WindowContext{Title: "notes.txt", Application: "Editor"}}
	m := metrics.New()

	a, err := NewAgent(src, prober, testConfig(t, nil), m)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	out := make(chan mask.Keystroke, 16)
	if err := a.Start(context.Background(), out); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := collect(t, out, 2)
	stopAgent(t, a)

	if got[0].Fragment != "h" || got[1].Fragment != "i" {
		t.Errorf("fragments = %q, %q, want h, i", got[0].Fragment, got[1].Fragment)
	}
	if got[0].Application != "Editor" || got[0].WindowTitle != "notes.txt" {
		t.Errorf("window context = %q/%q", got[0].Application, got[0].WindowTitle)
	}
	if got[0].EmitKey {
		t.Error("printable key should not be emitted as a discrete key event")
	}
	if n := metrics.Load(&m.EventsCaptured); n != 4 {
		t.Errorf("EventsCaptured = %d, want 4", n)
	}
	if n := metrics.Load(&m.EventsFiltered); n != 2 {
		t.Errorf("EventsFiltered = %d, want 2 (the releases)", n)
	}
}

func TestAgentFilters(t *testing.T) {
	t.Run("ignored application", func(t *testing.T) {
		src := &ScriptedSource{Events: []keys.RawKeyEvent{press(1, 35), press(2, 23)}}
		prober := &StaticProber{Window: WindowContext{Application: "KeePassXC"}}
		m := metrics.New()
		cfg := testConfig(t, func(c *config.Config) {
			c.IgnoredApplications = []string{"keepass"}
		})

		a, err := NewAgent(src, prober, cfg, m)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		out := make(chan mask.Keystroke, 16)
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitCounter(t, &m.EventsFiltered, 2)
		stopAgent(t, a)

		if len(out) != 0 {
			t.Errorf("expected no keystrokes, got %d", len(out))
		}
	})

	t.Run("ignored window title pattern", func(t *testing.T) {
		src := &ScriptedSource{Events: []keys.RawKeyEvent{press(1, 35)}}
		prober := &StaticProber{Window: WindowContext{Title: "Login - Private Banking", Application: "Browser"}}
		m := metrics.New()
		cfg := testConfig(t, func(c *config.Config) {
			c.IgnoredWindowPatterns = []string{`(?i)private`}
		})

		a, err := NewAgent(src, prober, cfg, m)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		out := make(chan mask.Keystroke, 16)
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitCounter(t, &m.EventsFiltered, 1)
		stopAgent(t, a)

		if len(out) != 0 {
			t.Errorf("expected no keystrokes, got %d", len(out))
		}
	})

	t.Run("modifiers off by default", func(t *testing.T) {
		src := &ScriptedSource{Events: []keys.RawKeyEvent{press(1, 42), press(2, 35)}} // Shift, h
		m := metrics.New()

		a, err := NewAgent(src, &StaticProber{}, testConfig(t, nil), m)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		out := make(chan mask.Keystroke, 16)
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("start: %v", err)
		}
		got := collect(t, out, 1)
		stopAgent(t, a)

		if got[0].Key != "h" {
			t.Errorf("key = %q, want h (modifier filtered)", got[0].Key)
		}
	})

	t.Run("function keys when enabled", func(t *testing.T) {
		src := &ScriptedSource{Events: []keys.RawKeyEvent{press(1, 63)}} // F5
		m := metrics.New()
		cfg := testConfig(t, func(c *config.Config) { c.CaptureFunctionKeys = true })

		a, err := NewAgent(src, &StaticProber{}, cfg, m)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		out := make(chan mask.Keystroke, 16)
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("start: %v", err)
		}
		got := collect(t, out, 1)
		stopAgent(t, a)

		if got[0].Key != "F5" || !got[0].EmitKey {
			t.Errorf("got key=%q emit=%v, want F5 as discrete key", got[0].Key, got[0].EmitKey)
		}
	})
}

func TestAgentUpdateConfig(t *testing.T) {
	m := metrics.New()
	a, err := NewAgent(&ScriptedSource{}, &StaticProber{Window: WindowContext{Application: "Slack"}}, testConfig(t, nil), m)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	a.window.Store(&WindowContext{Application: "Slack"})

	if _, ok := a.classify(press(1, 35)); !ok {
		t.Fatal("expected event to pass before the update")
	}

	cfg := testConfig(t, func(c *config.Config) {
		c.IgnoredApplications = []string{"slack"}
	})
	if err := a.UpdateConfig(cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	if _, ok := a.classify(press(2, 35)); ok {
		t.Error("expected event to be filtered after the update")
	}

	bad := testConfig(t, nil)
	bad.IgnoredWindowPatterns = []string{"(unclosed"}
	if err := a.UpdateConfig(bad); !keyerrors.Is(err, keyerrors.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID for a bad pattern, got %v", err)
	}
}

func TestAgentDropOldest(t *testing.T) {
	m := metrics.New()
	a, err := NewAgent(&ScriptedSource{}, &StaticProber{}, testConfig(t, nil), m)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	a.hookQ = make(chan keys.RawKeyEvent, 2)

	a.enqueue(press(1, 35))
	a.enqueue(press(2, 23))
	a.enqueue(press(3, 31)) // full: event ts=1 is evicted

	if n := metrics.Load(&m.EventsDroppedHook); n != 1 {
		t.Fatalf("EventsDroppedHook = %d, want 1", n)
	}
	first := <-a.hookQ
	if first.TS != 2 {
		t.Errorf("head of queue ts = %d, want 2 (oldest dropped)", first.TS)
	}
}

func TestAgentLifecycle(t *testing.T) {
	t.Run("start is idempotent", func(t *testing.T) {
		src := &ScriptedSource{}
		a, err := NewAgent(src, &StaticProber{}, testConfig(t, nil), metrics.New())
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		out := make(chan mask.Keystroke, 1)
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("first start: %v", err)
		}
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("second start should be a no-op, got %v", err)
		}
		if !a.IsRunning() {
			t.Error("agent should be running")
		}
		stopAgent(t, a)
		if a.IsRunning() {
			t.Error("agent should be stopped")
		}
	})

	t.Run("stop when stopped is a no-op", func(t *testing.T) {
		a, err := NewAgent(&ScriptedSource{}, &StaticProber{}, testConfig(t, nil), metrics.New())
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		if err := a.Stop(context.Background()); err != nil {
			t.Errorf("stop: %v", err)
		}
	})

	t.Run("open failure surfaces from start", func(t *testing.T) {
		src := &ScriptedSource{OpenErr: keyerrors.NewPermissionDenied("/dev/input/event3", errors.New("permission denied"))}
		a, err := NewAgent(src, &StaticProber{}, testConfig(t, nil), metrics.New())
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		err = a.Start(context.Background(), make(chan mask.Keystroke, 1))
		if !keyerrors.Is(err, keyerrors.ErrPermissionDenied) {
			t.Errorf("expected PERMISSION_DENIED, got %v", err)
		}
		if a.IsRunning() {
			t.Error("agent must not be running after a failed start")
		}
	})

	t.Run("stop closes the output channel", func(t *testing.T) {
		a, err := NewAgent(&ScriptedSource{}, &StaticProber{}, testConfig(t, nil), metrics.New())
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		out := make(chan mask.Keystroke, 1)
		if err := a.Start(context.Background(), out); err != nil {
			t.Fatalf("start: %v", err)
		}
		stopAgent(t, a)
		select {
		case _, ok := <-out:
			if ok {
				t.Error("expected output channel to be closed")
			}
		case <-time.After(time.Second):
			t.Error("output channel not closed after stop")
		}
	})
}

// crashySource fails its Run a fixed number of times before behaving.
type crashySource struct {
	failures int32
	runs     int32
}

func (s *crashySource) Open() error { return nil }

func (s *crashySource) Run(ctx context.Context, emit func(keys.RawKeyEvent)) error {
	n := atomic.AddInt32(&s.runs, 1)
	if n <= atomic.LoadInt32(&s.failures) {
		return errors.New("device vanished")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *crashySource) Close() error { return nil }

func TestAgentHookRestart(t *testing.T) {
	t.Run("one crash recovers", func(t *testing.T) {
		src := &crashySource{failures: 1}
		m := metrics.New()
		a, err := NewAgent(src, &StaticProber{}, testConfig(t, nil), m)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		if err := a.Start(context.Background(), make(chan mask.Keystroke, 1)); err != nil {
			t.Fatalf("start: %v", err)
		}
		waitCounter(t, &m.HookRestarts, 1)
		if _, lastErr := a.Status(); lastErr != nil {
			t.Errorf("unexpected fatal error: %v", lastErr)
		}
		stopAgent(t, a)
	})

	t.Run("second crash is fatal", func(t *testing.T) {
		src := &crashySource{failures: 2}
		m := metrics.New()
		a, err := NewAgent(src, &StaticProber{}, testConfig(t, nil), m)
		if err != nil {
			t.Fatalf("new agent: %v", err)
		}
		fatal := make(chan error, 1)
		a.OnFatal(func(err error) { fatal <- err })

		if err := a.Start(context.Background(), make(chan mask.Keystroke, 1)); err != nil {
			t.Fatalf("start: %v", err)
		}
		select {
		case err := <-fatal:
			if err == nil {
				t.Error("fatal callback fired with nil error")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("fatal callback never fired")
		}
		if _, lastErr := a.Status(); lastErr == nil {
			t.Error("expected last error to be recorded")
		}
		stopAgent(t, a)
	})
}

func waitCounter(t *testing.T, field *int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if metrics.Load(field) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter = %d, want >= %d", metrics.Load(field), want)
}
