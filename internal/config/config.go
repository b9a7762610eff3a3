package config

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// Config holds the pipeline configuration. Instances are immutable snapshots;
// update_config validates a new one and publishes it atomically.
type Config struct {
	// BufferSize is the capacity of the capture->mask channel. The same bound
	// applies to mask->persist.
	BufferSize int `json:"buffer_size"`

	// FlushIntervalMS is the longest a batch may linger before it is written.
	// The mask stage uses the same cadence to close an idle text run.
	FlushIntervalMS int `json:"flush_interval_ms"`

	// MaxEventsPerFlush is the largest batch written in one transaction.
	MaxEventsPerFlush int `json:"max_events_per_flush"`

	// CaptureModifiers forwards modifier-only events to the mask stage.
	CaptureModifiers bool `json:"capture_modifiers"`

	// CaptureFunctionKeys forwards F1-F24 events to the mask stage.
	CaptureFunctionKeys bool `json:"capture_function_keys"`

	// WindowUpdateIntervalMS is the active-window probe cadence.
	WindowUpdateIntervalMS int `json:"window_update_interval_ms"`

	// IgnoredApplications drops events at capture when the application name
	// contains any entry (case-insensitive).
	IgnoredApplications []string `json:"ignored_applications,omitempty"`

	// IgnoredWindowPatterns drops events at capture when the window title
	// matches any of these regular expressions.
	IgnoredWindowPatterns []string `json:"ignored_window_patterns,omitempty"`

	// DatabaseKey is the secret the store key is derived from. Never logged.
	DatabaseKey string `json:"database_key,omitempty"`

	// EmbeddingProvider selects the embedder backend: "hash" (built-in,
	// deterministic) or "ollama".
	EmbeddingProvider string `json:"embedding_provider,omitempty"`

	// EmbeddingModelTag is stored alongside every vector; searches refuse to
	// mix tags.
	EmbeddingModelTag string `json:"embedding_model_tag,omitempty"`

	// EmbeddingEndpoint is the Ollama host. Empty uses OLLAMA_HOST or the
	// client default.
	EmbeddingEndpoint string `json:"embedding_endpoint,omitempty"`

	// EmbeddingDimension is the store-wide vector dimension D.
	EmbeddingDimension int `json:"embedding_dimension,omitempty"`

	// EmbedWorkers is the size of the embedding task pool.
	EmbedWorkers int `json:"embed_workers,omitempty"`

	// EmbedQueueSize bounds the embedding job queue.
	EmbedQueueSize int `json:"embed_queue_size,omitempty"`

	// DeadLetterDir overrides where failed batches are written. Empty uses
	// the "deadletter" directory under the data dir.
	DeadLetterDir string `json:"dead_letter_dir,omitempty"`

	// DeadLetterMaxBytes caps the dead-letter directory; oldest files are
	// evicted beyond it.
	DeadLetterMaxBytes int64 `json:"dead_letter_max_bytes,omitempty"`

	// RRFK is the k constant in reciprocal rank fusion.
	RRFK int `json:"rrf_k,omitempty"`

	// SuggestionCapacity bounds the in-memory suggestion table.
	SuggestionCapacity int `json:"suggestion_capacity,omitempty"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// WebAddr is the listen address of the local status server.
	WebAddr string `json:"web_addr,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:             1000,
		FlushIntervalMS:        5000,
		MaxEventsPerFlush:      100,
		WindowUpdateIntervalMS: 1000,
		DatabaseKey:            "keyai-desktop-secret-key",
		EmbeddingProvider:      "hash",
		EmbeddingModelTag:      "hash-v1",
		EmbeddingDimension:     384,
		EmbedWorkers:           2,
		EmbedQueueSize:         1024,
		DeadLetterMaxBytes:     64 << 20,
		RRFK:                   60,
		SuggestionCapacity:     100,
		LogLevel:               "info",
		WebAddr:                "127.0.0.1:8787",
	}
}

// Patch is a partial configuration overlay. A nil field keeps the base
// value; a present field applies as given, so an explicit false or an
// empty list is honored rather than discarded.
type Patch struct {
	BufferSize             *int      `json:"buffer_size,omitempty"`
	FlushIntervalMS        *int      `json:"flush_interval_ms,omitempty"`
	MaxEventsPerFlush      *int      `json:"max_events_per_flush,omitempty"`
	CaptureModifiers       *bool     `json:"capture_modifiers,omitempty"`
	CaptureFunctionKeys    *bool     `json:"capture_function_keys,omitempty"`
	WindowUpdateIntervalMS *int      `json:"window_update_interval_ms,omitempty"`
	IgnoredApplications    *[]string `json:"ignored_applications,omitempty"`
	IgnoredWindowPatterns  *[]string `json:"ignored_window_patterns,omitempty"`
	DatabaseKey            *string   `json:"database_key,omitempty"`
	EmbeddingProvider      *string   `json:"embedding_provider,omitempty"`
	EmbeddingModelTag      *string   `json:"embedding_model_tag,omitempty"`
	EmbeddingEndpoint      *string   `json:"embedding_endpoint,omitempty"`
	EmbeddingDimension     *int      `json:"embedding_dimension,omitempty"`
	EmbedWorkers           *int      `json:"embed_workers,omitempty"`
	EmbedQueueSize         *int      `json:"embed_queue_size,omitempty"`
	DeadLetterDir          *string   `json:"dead_letter_dir,omitempty"`
	DeadLetterMaxBytes     *int64    `json:"dead_letter_max_bytes,omitempty"`
	RRFK                   *int      `json:"rrf_k,omitempty"`
	SuggestionCapacity     *int      `json:"suggestion_capacity,omitempty"`
	LogLevel               *string   `json:"log_level,omitempty"`
	WebAddr                *string   `json:"web_addr,omitempty"`
}

// Load loads configuration from baseDir/config.json, applies environment
// overrides, and validates. Returns defaults if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	patch, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), patch)
	ApplyEnv(merged)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// loadFileRaw loads a configuration patch from a specific file path.
// Returns an empty patch if the file doesn't exist.
func loadFileRaw(configPath string) (*Patch, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Patch{}, nil
		}
		return nil, err
	}

	patch := &Patch{}
	if err := json.Unmarshal(data, patch); err != nil {
		return nil, keyerrors.NewConfigInvalid("config.json", err.Error())
	}

	return patch, nil
}

// ApplyEnv overlays KEYAI_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("KEYAI_DATABASE_KEY"); v != "" {
		cfg.DatabaseKey = v
	}
	if v := os.Getenv("KEYAI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("KEYAI_WEB_ADDR"); v != "" {
		cfg.WebAddr = v
	}
	if v := os.Getenv("KEYAI_EMBEDDING_ENDPOINT"); v != "" {
		cfg.EmbeddingEndpoint = v
	}
	if v := os.Getenv("KEYAI_EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := os.Getenv("KEYAI_BUFFER_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BufferSize = n
		}
	}
	if v := os.Getenv("KEYAI_FLUSH_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FlushIntervalMS = n
		}
	}
	if v := os.Getenv("KEYAI_MAX_EVENTS_PER_FLUSH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEventsPerFlush = n
		}
	}
}

// Merge applies overlay onto a copy of base. Only fields present in the
// overlay change; present lists replace the base list entirely, so an
// entry can be removed by sending the list without it.
func Merge(base *Config, overlay *Patch) *Config {
	result := *base
	if overlay == nil {
		return &result
	}

	if overlay.BufferSize != nil {
		result.BufferSize = *overlay.BufferSize
	}
	if overlay.FlushIntervalMS != nil {
		result.FlushIntervalMS = *overlay.FlushIntervalMS
	}
	if overlay.MaxEventsPerFlush != nil {
		result.MaxEventsPerFlush = *overlay.MaxEventsPerFlush
	}
	if overlay.CaptureModifiers != nil {
		result.CaptureModifiers = *overlay.CaptureModifiers
	}
	if overlay.CaptureFunctionKeys != nil {
		result.CaptureFunctionKeys = *overlay.CaptureFunctionKeys
	}
	if overlay.WindowUpdateIntervalMS != nil {
		result.WindowUpdateIntervalMS = *overlay.WindowUpdateIntervalMS
	}
	if overlay.IgnoredApplications != nil {
		result.IgnoredApplications = normalizeStringSlice(*overlay.IgnoredApplications)
	}
	if overlay.IgnoredWindowPatterns != nil {
		result.IgnoredWindowPatterns = normalizeStringSlice(*overlay.IgnoredWindowPatterns)
	}
	if overlay.DatabaseKey != nil {
		result.DatabaseKey = *overlay.DatabaseKey
	}
	if overlay.EmbeddingProvider != nil {
		result.EmbeddingProvider = *overlay.EmbeddingProvider
	}
	if overlay.EmbeddingModelTag != nil {
		result.EmbeddingModelTag = *overlay.EmbeddingModelTag
	}
	if overlay.EmbeddingEndpoint != nil {
		result.EmbeddingEndpoint = *overlay.EmbeddingEndpoint
	}
	if overlay.EmbeddingDimension != nil {
		result.EmbeddingDimension = *overlay.EmbeddingDimension
	}
	if overlay.EmbedWorkers != nil {
		result.EmbedWorkers = *overlay.EmbedWorkers
	}
	if overlay.EmbedQueueSize != nil {
		result.EmbedQueueSize = *overlay.EmbedQueueSize
	}
	if overlay.DeadLetterDir != nil {
		result.DeadLetterDir = *overlay.DeadLetterDir
	}
	if overlay.DeadLetterMaxBytes != nil {
		result.DeadLetterMaxBytes = *overlay.DeadLetterMaxBytes
	}
	if overlay.RRFK != nil {
		result.RRFK = *overlay.RRFK
	}
	if overlay.SuggestionCapacity != nil {
		result.SuggestionCapacity = *overlay.SuggestionCapacity
	}
	if overlay.LogLevel != nil {
		result.LogLevel = *overlay.LogLevel
	}
	if overlay.WebAddr != nil {
		result.WebAddr = *overlay.WebAddr
	}

	return &result
}

// Validate checks numeric ranges and compiles every window pattern.
func (c *Config) Validate() error {
	if c.BufferSize <= 0 {
		return keyerrors.NewConfigInvalid("buffer_size", "must be positive")
	}
	if c.FlushIntervalMS <= 0 {
		return keyerrors.NewConfigInvalid("flush_interval_ms", "must be positive")
	}
	if c.MaxEventsPerFlush <= 0 {
		return keyerrors.NewConfigInvalid("max_events_per_flush", "must be positive")
	}
	if c.WindowUpdateIntervalMS <= 0 {
		return keyerrors.NewConfigInvalid("window_update_interval_ms", "must be positive")
	}
	if c.EmbeddingDimension <= 0 {
		return keyerrors.NewConfigInvalid("embedding_dimension", "must be positive")
	}
	if c.EmbedWorkers <= 0 {
		return keyerrors.NewConfigInvalid("embed_workers", "must be positive")
	}
	if c.EmbedQueueSize <= 0 {
		return keyerrors.NewConfigInvalid("embed_queue_size", "must be positive")
	}
	if c.RRFK <= 0 {
		return keyerrors.NewConfigInvalid("rrf_k", "must be positive")
	}
	if c.SuggestionCapacity <= 0 {
		return keyerrors.NewConfigInvalid("suggestion_capacity", "must be positive")
	}
	if c.DatabaseKey == "" {
		return keyerrors.NewConfigInvalid("database_key", "must not be empty")
	}
	if c.EmbeddingModelTag == "" {
		return keyerrors.NewConfigInvalid("embedding_model_tag", "must not be empty")
	}
	switch c.EmbeddingProvider {
	case "hash", "ollama":
	default:
		return keyerrors.NewConfigInvalid("embedding_provider", "must be \"hash\" or \"ollama\"")
	}
	if _, err := c.CompileWindowPatterns(); err != nil {
		return err
	}
	return nil
}

// CompileWindowPatterns compiles IgnoredWindowPatterns, reporting the first
// failing entry by index.
func (c *Config) CompileWindowPatterns() ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(c.IgnoredWindowPatterns))
	for i, p := range c.IgnoredWindowPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			field := "ignored_window_patterns[" + strconv.Itoa(i) + "]"
			return nil, keyerrors.NewConfigInvalid(field, err.Error())
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// FlushInterval returns FlushIntervalMS as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

// WindowUpdateInterval returns WindowUpdateIntervalMS as a duration.
func (c *Config) WindowUpdateInterval() time.Duration {
	return time.Duration(c.WindowUpdateIntervalMS) * time.Millisecond
}

// normalizeStringSlice trims whitespace and removes empty entries and duplicates.
func normalizeStringSlice(in []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(in))

	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
