// Package mask implements the PII redaction stage: an ordered, deterministic
// pattern table applied to every piece of text before it may reach the store.
package mask

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudflare/ahocorasick"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/metrics"
)

// MaxTextLen bounds the input accepted by MaskText.
const MaxTextLen = 100_000

const cacheSize = 1024

// TagSensitiveKeyword is emitted when the keyword prescreen fires even if no
// pattern replaced anything.
const TagSensitiveKeyword = "sensitive_keyword"

// sensitiveKeywords feed the multi-pattern prescreen. Matched case-insensitively.
var sensitiveKeywords = []string{
	"password", "senha", "secret", "segredo", "token", "key", "chave",
	"auth", "login", "pass", "pwd", "credential", "credencial",
}

type cached struct {
	text string
	tags []string
}

// Masker owns the compiled pattern table. Safe for concurrent use.
type Masker struct {
	patterns []*Pattern
	keywords *ahocorasick.Matcher
	cache    *lru.Cache[string, cached]
	counts   map[string]*int64

	mu       sync.RWMutex
	disabled map[string]bool

	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds a Masker with the built-in pattern table. m must be
// non-nil; every stage records into the shared counter set.
func New(m *metrics.Metrics) *Masker {
	cache, _ := lru.New[string, cached](cacheSize)

	patterns := builtinPatterns()
	counts := make(map[string]*int64, len(patterns))
	for _, p := range patterns {
		counts[p.Name] = new(int64)
	}

	return &Masker{
		patterns: patterns,
		keywords: ahocorasick.NewStringMatcher(sensitiveKeywords),
		cache:    cache,
		counts:   counts,
		disabled: make(map[string]bool),
		metrics:  m,
		log:      logging.Component("mask"),
	}
}

// MaskText applies every enabled pattern in order and returns the redacted
// text plus the names of the patterns that matched. It is deterministic and
// idempotent: masking already-masked text changes nothing.
func (m *Masker) MaskText(s string) (string, []string, error) {
	if len(s) > MaxTextLen {
		metrics.Add(&m.metrics.MaskRejectedTooLarge, 1)
		return "", nil, keyerrors.NewInvalidQuery(fmt.Sprintf("text length %d exceeds limit %d", len(s), MaxTextLen))
	}
	if s == "" {
		return "", nil, nil
	}

	if hit, ok := m.cache.Get(s); ok {
		return hit.text, append([]string(nil), hit.tags...), nil
	}

	hasDigit := strings.ContainsAny(s, "0123456789")
	hasAt := strings.IndexByte(s, '@') >= 0
	hasKeyword := len(m.keywords.MatchThreadSafe([]byte(strings.ToLower(s)))) > 0

	disabled := m.disabledSet()

	out := s
	var tags []string
	for _, p := range m.patterns {
		if disabled[p.Name] {
			continue
		}
		switch p.Name {
		case "email":
			if !hasAt {
				continue
			}
		case "password":
			if !hasKeyword {
				continue
			}
		default:
			if !hasDigit {
				continue
			}
		}

		replaced, n, err := m.applyPattern(p, out)
		if err != nil {
			m.disablePattern(p.Name, err)
			continue
		}
		if n > 0 {
			out = replaced
			tags = append(tags, p.Name)
			atomic.AddInt64(m.counts[p.Name], int64(n))
			metrics.Add(&m.metrics.PatternHitsTotal, int64(n))
		}
	}

	if hasKeyword {
		tags = append(tags, TagSensitiveKeyword)
	}

	m.cache.Add(s, cached{text: out, tags: append([]string(nil), tags...)})
	return out, tags, nil
}

// MaskChunk redacts a chunk's text and its window fields, merging the tags.
// Titles and application names repeat heavily, so those calls usually hit
// the cache.
func (m *Masker) MaskChunk(ch Chunk) (Event, error) {
	content, tags, err := m.MaskText(ch.Text)
	if err != nil {
		return Event{}, err
	}
	app, appTags, err := m.MaskText(ch.Application)
	if err != nil {
		return Event{}, err
	}
	title, titleTags, err := m.MaskText(ch.WindowTitle)
	if err != nil {
		return Event{}, err
	}

	return Event{
		TS:          ch.TS,
		Content:     content,
		Application: app,
		WindowTitle: title,
		Kind:        ch.Kind,
		Tags:        mergeTags(tags, appTags, titleTags),
	}, nil
}

func mergeTags(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, t := range list {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// applyPattern rewrites every match of one pattern. A panic inside the regex
// engine is converted to a PATTERN_MATCH error so one bad pattern cannot take
// the stage down.
func (m *Masker) applyPattern(p *Pattern, s string) (out string, n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = keyerrors.NewPatternMatch(p.Name, fmt.Errorf("%v", r))
		}
	}()

	out = p.Regex.ReplaceAllStringFunc(s, func(match string) string {
		n++
		return p.Mask(match)
	})
	return out, n, nil
}

func (m *Masker) disablePattern(name string, err error) {
	m.mu.Lock()
	m.disabled[name] = true
	m.mu.Unlock()

	metrics.Add(&m.metrics.PatternsDisabled, 1)
	m.log.Warn().Err(err).Str("pattern", name).Msg("pattern disabled for process lifetime")
}

func (m *Masker) disabledSet() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.disabled) == 0 {
		return nil
	}
	set := make(map[string]bool, len(m.disabled))
	for k, v := range m.disabled {
		set[k] = v
	}
	return set
}

// PatternStatus reports one pattern's name, whether it is still active, and
// how many matches it has rewritten since boot.
type PatternStatus struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Hits    int64  `json:"hits"`
}

// Status returns per-pattern state in table order.
func (m *Masker) Status() []PatternStatus {
	disabled := m.disabledSet()
	out := make([]PatternStatus, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, PatternStatus{
			Name:    p.Name,
			Enabled: !disabled[p.Name],
			Hits:    atomic.LoadInt64(m.counts[p.Name]),
		})
	}
	return out
}
