package pipeline

import (
	"context"
	"fmt"

	"github.com/hpungsan/keyai/internal/metrics"
)

// Health statuses, ordered by severity.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check is one named probe result.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Health is the aggregate report: the worst check wins.
type Health struct {
	Status string  `json:"status"`
	Checks []Check `json:"checks"`
}

// Health probes the store, the capture chain, the redaction table, the
// embedding queue, and the dead-letter backlog. Degraded means the
// pipeline still captures and persists but something needs attention;
// unhealthy means events are at risk.
func (p *Pipeline) Health(ctx context.Context) *Health {
	h := &Health{Status: StatusHealthy}

	if _, err := p.store.Stats(ctx); err != nil {
		h.add("store", StatusUnhealthy, err.Error())
	} else {
		h.add("store", StatusHealthy, "")
	}

	state, lastErr := p.CaptureState()
	switch {
	case lastErr != nil:
		h.add("capture", StatusUnhealthy, fmt.Sprintf("state %s: %v", state, lastErr))
	case p.Capturing():
		h.add("capture", StatusHealthy, "")
	default:
		// Stopped on request is not a fault.
		h.add("capture", StatusHealthy, "not capturing")
	}

	disabled := 0
	for _, ps := range p.masker.Status() {
		if !ps.Enabled {
			disabled++
		}
	}
	if disabled > 0 {
		h.add("mask", StatusDegraded, fmt.Sprintf("%d pattern(s) disabled", disabled))
	} else {
		h.add("mask", StatusHealthy, "")
	}

	if files, bytes := p.dl.Size(); files > 0 {
		h.add("dead_letter", StatusDegraded,
			fmt.Sprintf("%d file(s), %d bytes awaiting replay", files, bytes))
	} else {
		h.add("dead_letter", StatusHealthy, "")
	}

	depth := p.EmbedQueueDepth()
	queueCap := p.cfg.Load().EmbedQueueSize
	if queueCap > 0 && depth >= queueCap {
		h.add("embed", StatusDegraded, fmt.Sprintf("queue full (%d)", depth))
	} else {
		h.add("embed", StatusHealthy, "")
	}

	if n := metrics.Load(&p.metrics.EventsDroppedHook); n > 0 {
		h.add("hook_queue", StatusDegraded, fmt.Sprintf("%d event(s) dropped at the hook seam", n))
	} else {
		h.add("hook_queue", StatusHealthy, "")
	}

	return h
}

func (h *Health) add(name, status, detail string) {
	h.Checks = append(h.Checks, Check{Name: name, Status: status, Detail: detail})
	if rank(status) > rank(h.Status) {
		h.Status = status
	}
}

func rank(status string) int {
	switch status {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}
