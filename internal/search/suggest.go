package search

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultSuggestionCapacity bounds the query-history table.
	DefaultSuggestionCapacity = 100

	// DefaultSuggestionLimit applies when the caller does not set one.
	DefaultSuggestionLimit = 10
)

// Suggestion is one remembered query.
type Suggestion struct {
	Query    string `json:"query"`
	Count    int64  `json:"count"`
	LastUsed int64  `json:"last_used_ts"`
}

type suggestionEntry struct {
	count    int64
	seq      int64 // monotonic recency; wall clocks collide under rapid queries
	lastUsed int64
}

// Suggestions is a bounded most-recently-used table of past queries,
// ordered by frequency and then recency. When full, the least frequent
// and then oldest entry is evicted.
type Suggestions struct {
	mu      sync.Mutex
	cap     int
	nextSeq int64
	entries map[string]*suggestionEntry
}

func NewSuggestions(capacity int) *Suggestions {
	if capacity <= 0 {
		capacity = DefaultSuggestionCapacity
	}
	return &Suggestions{
		cap:     capacity,
		entries: make(map[string]*suggestionEntry, capacity),
	}
}

// Record notes one use of a normalized query.
func (s *Suggestions) Record(query string) {
	if query == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	if e, ok := s.entries[query]; ok {
		e.count++
		e.seq = s.nextSeq
		e.lastUsed = time.Now().UnixMilli()
		return
	}

	if len(s.entries) >= s.cap {
		s.evictLocked()
	}
	s.entries[query] = &suggestionEntry{
		count:    1,
		seq:      s.nextSeq,
		lastUsed: time.Now().UnixMilli(),
	}
}

// List returns suggestions matching prefix (empty matches all), most
// frequent first, most recent among equals.
func (s *Suggestions) List(prefix string, limit int) []Suggestion {
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	s.mu.Lock()
	defer s.mu.Unlock()

	type ranked struct {
		query string
		e     *suggestionEntry
	}
	matches := make([]ranked, 0, len(s.entries))
	for q, e := range s.entries {
		if prefix != "" && !strings.HasPrefix(q, prefix) {
			continue
		}
		matches = append(matches, ranked{query: q, e: e})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.e.count != b.e.count {
			return a.e.count > b.e.count
		}
		return a.e.seq > b.e.seq
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Suggestion, len(matches))
	for i, m := range matches {
		out[i] = Suggestion{Query: m.query, Count: m.e.count, LastUsed: m.e.lastUsed}
	}
	return out
}

// Len reports how many queries are remembered.
func (s *Suggestions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked removes the least frequent entry, oldest among equals.
func (s *Suggestions) evictLocked() {
	var victim string
	var ve *suggestionEntry
	for q, e := range s.entries {
		if ve == nil || e.count < ve.count || (e.count == ve.count && e.seq < ve.seq) {
			victim, ve = q, e
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
