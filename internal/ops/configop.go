package ops

import (
	"github.com/hpungsan/keyai/internal/config"
	"github.com/hpungsan/keyai/internal/pipeline"
)

// redactedKey replaces the database key in any config leaving the
// process. The key itself is only ever read from file or environment.
const redactedKey = "[redacted]"

// GetConfigOutput is the active configuration with secrets removed.
type GetConfigOutput struct {
	Config *config.Config `json:"config"`
}

// GetConfig returns the active configuration snapshot, key redacted.
func GetConfig(p *pipeline.Pipeline) *GetConfigOutput {
	return &GetConfigOutput{Config: redact(p.Config())}
}

// UpdateConfigInput overlays fields onto the active configuration.
// Absent fields keep their current values; explicit false and empty
// lists apply as sent.
type UpdateConfigInput struct {
	Config config.Patch `json:"config"`
}

// UpdateConfigOutput reports the merged configuration and which changed
// fields only take effect on the next process start.
type UpdateConfigOutput struct {
	Config          *config.Config `json:"config"`
	RequiresRestart []string       `json:"requires_restart,omitempty"`
}

// UpdateConfig validates and publishes the merged configuration.
// Capture filters, toggles, and the probe cadence apply immediately;
// fields wired at construction are listed in RequiresRestart.
func UpdateConfig(p *pipeline.Pipeline, input UpdateConfigInput) (*UpdateConfigOutput, error) {
	current := p.Config()
	merged := config.Merge(current, &input.Config)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	if err := p.UpdateConfig(merged); err != nil {
		return nil, err
	}
	return &UpdateConfigOutput{
		Config:          redact(merged),
		RequiresRestart: restartFields(current, merged),
	}, nil
}

// restartFields lists changed fields the running pipeline cannot apply:
// they size channels, key the store, or select the embedding backend.
func restartFields(old, new *config.Config) []string {
	var fields []string
	if old.BufferSize != new.BufferSize {
		fields = append(fields, "buffer_size")
	}
	if old.DatabaseKey != new.DatabaseKey {
		fields = append(fields, "database_key")
	}
	if old.EmbeddingProvider != new.EmbeddingProvider {
		fields = append(fields, "embedding_provider")
	}
	if old.EmbeddingModelTag != new.EmbeddingModelTag {
		fields = append(fields, "embedding_model_tag")
	}
	if old.EmbeddingEndpoint != new.EmbeddingEndpoint {
		fields = append(fields, "embedding_endpoint")
	}
	if old.EmbeddingDimension != new.EmbeddingDimension {
		fields = append(fields, "embedding_dimension")
	}
	if old.EmbedWorkers != new.EmbedWorkers {
		fields = append(fields, "embed_workers")
	}
	if old.EmbedQueueSize != new.EmbedQueueSize {
		fields = append(fields, "embed_queue_size")
	}
	if old.DeadLetterDir != new.DeadLetterDir {
		fields = append(fields, "dead_letter_dir")
	}
	if old.WebAddr != new.WebAddr {
		fields = append(fields, "web_addr")
	}
	return fields
}

func redact(cfg *config.Config) *config.Config {
	out := *cfg
	if out.DatabaseKey != "" {
		out.DatabaseKey = redactedKey
	}
	return &out
}
