package capture

import "context"

// WindowContext is an immutable snapshot of the active window at some
// probe instant. It never contains raw user input; titles are still run
// through the mask stage before anything reaches the store.
type WindowContext struct {
	Title       string `json:"title"`
	Application string `json:"application"`
	PID         int32  `json:"pid,omitempty"`
}

// WindowProber samples the active window. Probe failures are non-fatal;
// the agent carries the last good snapshot forward.
type WindowProber interface {
	Probe(ctx context.Context) (WindowContext, error)
	Close() error
}

// StaticProber always reports the same window. Used by tests and as the
// fallback when no display server is reachable.
type StaticProber struct {
	Window WindowContext
}

func (p *StaticProber) Probe(context.Context) (WindowContext, error) {
	return p.Window, nil
}

func (p *StaticProber) Close() error { return nil }
