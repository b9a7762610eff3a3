package ops

import (
	"context"
	"time"

	"github.com/hpungsan/keyai/internal/mask"
	"github.com/hpungsan/keyai/internal/pipeline"
	"github.com/hpungsan/keyai/internal/store"
)

// StatsOutput summarizes the on-disk state plus the queues around it.
type StatsOutput struct {
	Store           *store.Stats `json:"store"`
	ModelTag        string       `json:"model_tag"`
	DeadLetterFiles int64        `json:"dead_letter_files"`
	DeadLetterBytes int64        `json:"dead_letter_bytes"`
	EmbedQueueDepth int          `json:"embed_queue_depth"`
	UptimeMS        int64        `json:"uptime_ms"`
}

// Stats reports store size, row counts, and backlog state.
func Stats(ctx context.Context, p *pipeline.Pipeline) (*StatsOutput, error) {
	st, err := p.Store().Stats(ctx)
	if err != nil {
		return nil, err
	}
	files, bytes := p.DeadLetter().Size()
	return &StatsOutput{
		Store:           st,
		ModelTag:        p.Config().EmbeddingModelTag,
		DeadLetterFiles: files,
		DeadLetterBytes: bytes,
		EmbedQueueDepth: p.EmbedQueueDepth(),
		UptimeMS:        time.Since(p.StartedAt()).Milliseconds(),
	}, nil
}

// Health aggregates the pipeline's component probes.
func Health(ctx context.Context, p *pipeline.Pipeline) *pipeline.Health {
	return p.Health(ctx)
}

// MetricsOutput is the counter snapshot plus per-pattern redaction state.
type MetricsOutput struct {
	Counters map[string]int64     `json:"counters"`
	Patterns []mask.PatternStatus `json:"patterns"`
}

// GetMetrics snapshots every pipeline counter.
func GetMetrics(p *pipeline.Pipeline) *MetricsOutput {
	return &MetricsOutput{
		Counters: p.Metrics().Snapshot(),
		Patterns: p.Masker().Status(),
	}
}
