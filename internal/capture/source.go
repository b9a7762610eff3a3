package capture

import (
	"context"
	"time"

	"github.com/hpungsan/keyai/internal/keys"
)

// EventSource is the OS-specific keyboard hook. Open binds the hook and
// is where permission and platform failures surface; Run then blocks,
// delivering raw events through emit until ctx is cancelled. The emit
// callback must never block: it feeds the agent's drop-oldest queue.
type EventSource interface {
	Open() error
	Run(ctx context.Context, emit func(keys.RawKeyEvent)) error
	Close() error
}

// ScriptedSource replays a fixed event sequence. It stands in for the
// real hook in tests: Open can be made to fail, and Run emits the script
// in order and then blocks until cancelled, like a quiet keyboard.
type ScriptedSource struct {
	Events  []keys.RawKeyEvent
	OpenErr error

	// Gap inserts a pause between events so timing-sensitive tests can
	// interleave other work. Zero replays as fast as possible.
	Gap time.Duration
}

func (s *ScriptedSource) Open() error { return s.OpenErr }

func (s *ScriptedSource) Run(ctx context.Context, emit func(keys.RawKeyEvent)) error {
	for _, ev := range s.Events {
		if s.Gap > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.Gap):
			}
		}
		emit(ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *ScriptedSource) Close() error { return nil }
