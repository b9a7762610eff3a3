package ops

import (
	"context"
	"time"

	"github.com/hpungsan/keyai/internal/capture"
	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/pipeline"
)

// defaultStopTimeout bounds an orderly capture stop when the caller does
// not set one.
const defaultStopTimeout = 10 * time.Second

// StartCaptureOutput reports the capture state after the operation.
type StartCaptureOutput struct {
	State          string `json:"state"`
	AlreadyRunning bool   `json:"already_running"`
}

// StartCapture binds the keyboard hook and starts the pipeline.
// Starting an already-running pipeline is a no-op success.
func StartCapture(ctx context.Context, p *pipeline.Pipeline) (*StartCaptureOutput, error) {
	already := p.Capturing()
	if err := p.StartCapture(ctx); err != nil {
		return nil, err
	}
	state, _ := p.CaptureState()
	return &StartCaptureOutput{State: state, AlreadyRunning: already}, nil
}

// StopCaptureInput bounds how long the orderly drain may take.
type StopCaptureInput struct {
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// StopCaptureOutput reports the state after stopping.
type StopCaptureOutput struct {
	State        string `json:"state"`
	EventsStored int64  `json:"events_stored"`
}

// StopCapture releases the hook and drains the pipeline. Events already
// captured are flushed to the store before the operation returns.
func StopCapture(ctx context.Context, p *pipeline.Pipeline, input StopCaptureInput) (*StopCaptureOutput, error) {
	timeout := defaultStopTimeout
	if input.TimeoutMS > 0 {
		timeout = time.Duration(input.TimeoutMS) * time.Millisecond
	}
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.StopCapture(stopCtx); err != nil {
		return nil, err
	}
	state, _ := p.CaptureState()
	return &StopCaptureOutput{
		State:        state,
		EventsStored: metrics.Load(&p.Metrics().EventsStored),
	}, nil
}

// CaptureStatusOutput is the live view of the capture chain.
type CaptureStatusOutput struct {
	State             string                `json:"state"`
	Capturing         bool                  `json:"capturing"`
	CaptureSince      int64                 `json:"capture_since,omitempty"`
	Window            capture.WindowContext `json:"window"`
	EventsCaptured    int64                 `json:"events_captured"`
	EventsFiltered    int64                 `json:"events_filtered"`
	EventsDroppedHook int64                 `json:"events_dropped_hook"`
	EventsStored      int64                 `json:"events_stored"`
	LastEventTS       int64                 `json:"last_event_ts"`
	LastError         string                `json:"last_error,omitempty"`
}

// CaptureStatus reports the capture state without touching the store.
func CaptureStatus(p *pipeline.Pipeline) *CaptureStatusOutput {
	state, lastErr := p.CaptureState()
	m := p.Metrics()
	out := &CaptureStatusOutput{
		State:             state,
		Capturing:         p.Capturing(),
		Window:            p.CurrentWindow(),
		EventsCaptured:    metrics.Load(&m.EventsCaptured),
		EventsFiltered:    metrics.Load(&m.EventsFiltered),
		EventsDroppedHook: metrics.Load(&m.EventsDroppedHook),
		EventsStored:      metrics.Load(&m.EventsStored),
		LastEventTS:       metrics.Load(&m.LastEventTS),
	}
	if since := p.CaptureSince(); !since.IsZero() {
		out.CaptureSince = since.UnixMilli()
	}
	if lastErr != nil {
		out.LastError = lastErr.Error()
	}
	return out
}

// CurrentWindowOutput is the freshest active-window snapshot.
type CurrentWindowOutput struct {
	Window    capture.WindowContext `json:"window"`
	Capturing bool                  `json:"capturing"`
}

// CurrentWindow reports the active window as last probed. Outside a
// capture session the snapshot is empty.
func CurrentWindow(p *pipeline.Pipeline) *CurrentWindowOutput {
	return &CurrentWindowOutput{Window: p.CurrentWindow(), Capturing: p.Capturing()}
}
