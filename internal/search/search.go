// Package search answers lexical, semantic, and hybrid queries.
//
// Lexical mode delegates to the store's FTS index and normalizes ranks to
// (0,1] by dividing by the best rank in the result set. Semantic mode
// embeds the query and ranks stored vectors by cosine similarity. Hybrid
// mode runs both and fuses the two ranked lists with reciprocal rank
// fusion. Ordering is deterministic: score descending, then ascending
// event id, then ascending timestamp.
package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/hpungsan/keyai/internal/embed"
	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/store"
)

const (
	// DefaultLimit applies when the caller does not set one.
	DefaultLimit = 50

	// MaxLimit is the hard cap; larger requests are clamped.
	MaxLimit = 1000

	// DefaultTextWeight and DefaultSemanticWeight are the hybrid weights
	// when the caller omits them.
	DefaultTextWeight     = 0.7
	DefaultSemanticWeight = 0.3

	// DefaultThreshold is the minimum cosine similarity for semantic
	// results. Clamped to [0,1].
	DefaultThreshold = 0.5

	// DefaultRRFK is the k constant in reciprocal rank fusion.
	DefaultRRFK = 60

	// queryCacheSize bounds the query-vector LRU.
	queryCacheSize = 256
)

// Warning tags attached to responses when a search degrades.
const (
	WarnTimeout             = "timeout"
	WarnTextUnavailable     = "text_unavailable"
	WarnSemanticUnavailable = "semantic_unavailable"
)

// Store is the read path the engine queries. *store.Store satisfies it.
type Store interface {
	QueryFTS(ctx context.Context, query string, limit, offset int, f store.Filters) ([]store.FTSHit, int, error)
	QueryVec(ctx context.Context, qvec []float32, modelTag string, limit int, threshold float64, f store.Filters) ([]store.VecHit, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]store.EventRow, error)
}

// Request carries the parameters common to the three search modes.
// Callers resolve defaults before handing a Request to the engine: a
// Threshold of 0 means "accept everything", not "use the default".
type Request struct {
	Query          string
	Limit          int
	Offset         int     // lexical mode only
	TextWeight     float64 // hybrid mode
	SemanticWeight float64 // hybrid mode
	Threshold      float64 // semantic mode, clamped to [0,1]
	Filters        store.Filters
}

// Result is one ranked event.
type Result struct {
	ID          int64   `json:"id"`
	TS          int64   `json:"ts"`
	Kind        string  `json:"kind"`
	Content     string  `json:"content"`
	Application string  `json:"application"`
	WindowTitle string  `json:"window_title"`
	Score       float64 `json:"score"`
	Snippet     string  `json:"snippet"`
	Source      string  `json:"source"`
}

// Response carries ranked results plus timing and degradation tags.
// An expired deadline is not an error: the response is returned with
// whatever completed and a "timeout" warning.
type Response struct {
	Results      []Result `json:"results"`
	TotalCount   int      `json:"total_count"`
	SearchTimeMS int64    `json:"search_time_ms"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Engine executes searches against a Store using one Embedder.
type Engine struct {
	store   Store
	emb     embed.Embedder
	rrfK    int
	qcache  *lru.Cache[string, []float32]
	sugg    *Suggestions
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEngine creates a search engine. rrfK <= 0 falls back to DefaultRRFK;
// suggestionCap <= 0 falls back to the suggestion default.
func NewEngine(st Store, emb embed.Embedder, rrfK, suggestionCap int, m *metrics.Metrics) *Engine {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	qcache, _ := lru.New[string, []float32](queryCacheSize)
	return &Engine{
		store:   st,
		emb:     emb,
		rrfK:    rrfK,
		qcache:  qcache,
		sugg:    NewSuggestions(suggestionCap),
		metrics: m,
		log:     logging.Component("search"),
	}
}

// Suggestions exposes the engine's query-history table.
func (e *Engine) Suggestions() *Suggestions { return e.sugg }

// SearchText runs a lexical query.
func (e *Engine) SearchText(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	q, err := e.prepare(req.Query)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	hits, total, err := e.store.QueryFTS(ctx, q, limit, offset, req.Filters)
	if err != nil {
		if timedOut(ctx, err) {
			return e.timeoutResponse(start), nil
		}
		return nil, keyerrors.NewSearchUnavailable(err, nil)
	}

	results, err := e.textResults(ctx, q, hits)
	if err != nil {
		if timedOut(ctx, err) {
			return e.timeoutResponse(start), nil
		}
		return nil, keyerrors.NewSearchUnavailable(err, nil)
	}

	return &Response{
		Results:      results,
		TotalCount:   total,
		SearchTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// SearchSemantic runs a cosine-similarity query over stored vectors.
func (e *Engine) SearchSemantic(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	q, err := e.prepare(req.Query)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)
	threshold := clamp01(req.Threshold)

	qvec, err := e.queryVector(ctx, q)
	if err != nil {
		if timedOut(ctx, err) {
			return e.timeoutResponse(start), nil
		}
		return nil, keyerrors.NewSearchUnavailable(nil, err)
	}

	// No limit here: the total is the number of rows above the threshold.
	hits, err := e.store.QueryVec(ctx, qvec, e.emb.Model(), 0, threshold, req.Filters)
	if err != nil {
		if timedOut(ctx, err) {
			return e.timeoutResponse(start), nil
		}
		return nil, keyerrors.NewSearchUnavailable(nil, err)
	}
	total := len(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results, err := e.semanticResults(ctx, q, hits)
	if err != nil {
		if timedOut(ctx, err) {
			return e.timeoutResponse(start), nil
		}
		return nil, keyerrors.NewSearchUnavailable(nil, err)
	}

	return &Response{
		Results:      results,
		TotalCount:   total,
		SearchTimeMS: time.Since(start).Milliseconds(),
	}, nil
}

// SearchHybrid runs both modes and fuses the ranked lists. A single
// failing mode degrades to the other with a warning tag; both failing is
// SEARCH_UNAVAILABLE.
func (e *Engine) SearchHybrid(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	wt, ws, err := normalizeWeights(req.TextWeight, req.SemanticWeight)
	if err != nil {
		return nil, err
	}
	q, err := e.prepare(req.Query)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(req.Limit)

	var warnings []string
	var textHits []store.FTSHit
	var vecHits []store.VecHit
	var textErr, semErr error
	textOK, semOK := false, false

	// A zero weight skips its mode entirely so the reduction laws hold:
	// ws=0 reproduces SearchText's ordering, wt=0 SearchSemantic's.
	if wt > 0 {
		hits, _, err := e.store.QueryFTS(ctx, q, limit, 0, req.Filters)
		switch {
		case err == nil:
			textHits = hits
			textOK = true
		case timedOut(ctx, err):
			warnings = appendWarning(warnings, WarnTimeout)
			metrics.Add(&e.metrics.SearchTimeouts, 1)
		default:
			textErr = err
			warnings = appendWarning(warnings, WarnTextUnavailable)
			e.log.Warn().Err(err).Msg("lexical mode failed, falling back to semantic")
		}
	}

	if ws > 0 {
		hits, err := e.semanticList(ctx, q, limit, req.Filters)
		switch {
		case err == nil:
			vecHits = hits
			semOK = true
		case timedOut(ctx, err):
			warnings = appendWarning(warnings, WarnTimeout)
			metrics.Add(&e.metrics.SearchTimeouts, 1)
		default:
			semErr = err
			warnings = appendWarning(warnings, WarnSemanticUnavailable)
			e.log.Warn().Err(err).Msg("semantic mode failed, falling back to lexical")
		}
	}

	if !textOK && !semOK {
		if containsWarning(warnings, WarnTimeout) {
			return e.timeoutResponseWith(start, warnings), nil
		}
		return nil, keyerrors.NewSearchUnavailable(textErr, semErr)
	}

	textIDs := make([]int64, len(textHits))
	snippets := make(map[int64]string, len(textHits))
	for i, h := range textHits {
		textIDs[i] = h.ID
		snippets[h.ID] = processFTSSnippet(h.Snippet)
	}
	semIDs := make([]int64, len(vecHits))
	for i, h := range vecHits {
		semIDs[i] = h.ID
	}

	fused := fuseRRF(textIDs, semIDs, wt, ws, e.rrfK)
	total := len(fused)

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.id
	}
	rows, err := e.store.GetByIDs(ctx, ids)
	if err != nil {
		if timedOut(ctx, err) {
			return e.timeoutResponseWith(start, warnings), nil
		}
		return nil, keyerrors.NewSearchUnavailable(err, err)
	}

	sortFused(fused, rows)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	terms := queryTerms(q)
	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		row, ok := rows[f.id]
		if !ok {
			continue
		}
		snippet, ok := snippets[f.id]
		if !ok {
			snippet = semanticSnippet(row.Content, terms)
		}
		results = append(results, Result{
			ID:          row.ID,
			TS:          row.TS,
			Kind:        row.Kind,
			Content:     row.Content,
			Application: row.Application,
			WindowTitle: row.WindowTitle,
			Score:       f.score,
			Snippet:     snippet,
			Source:      "hybrid",
		})
	}

	return &Response{
		Results:      results,
		TotalCount:   total,
		SearchTimeMS: time.Since(start).Milliseconds(),
		Warnings:     warnings,
	}, nil
}

// prepare validates and normalizes the query, records it for suggestions,
// and counts the search.
func (e *Engine) prepare(query string) (string, error) {
	q := normalizeQuery(query)
	if q == "" {
		return "", keyerrors.NewInvalidQuery("query must not be empty")
	}
	metrics.Add(&e.metrics.SearchesTotal, 1)
	e.sugg.Record(q)
	return q, nil
}

// semanticList embeds the query and returns the top vector hits for the
// hybrid fusion, using the default threshold.
func (e *Engine) semanticList(ctx context.Context, q string, limit int, f store.Filters) ([]store.VecHit, error) {
	qvec, err := e.queryVector(ctx, q)
	if err != nil {
		return nil, err
	}
	return e.store.QueryVec(ctx, qvec, e.emb.Model(), limit, DefaultThreshold, f)
}

// queryVector embeds q, memoizing per (model tag, query).
func (e *Engine) queryVector(ctx context.Context, q string) ([]float32, error) {
	key := e.emb.Model() + "\x00" + q
	if vec, ok := e.qcache.Get(key); ok {
		return vec, nil
	}
	vec, err := e.emb.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	e.qcache.Add(key, vec)
	return vec, nil
}

// textResults materializes FTS hits, normalizing ranks by best-in-set.
func (e *Engine) textResults(ctx context.Context, q string, hits []store.FTSHit) ([]Result, error) {
	if len(hits) == 0 {
		return []Result{}, nil
	}

	best := 0.0
	for _, h := range hits {
		if abs := math.Abs(h.Rank); abs > best {
			best = abs
		}
	}
	if best == 0 {
		best = 1
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := e.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			ID:          row.ID,
			TS:          row.TS,
			Kind:        row.Kind,
			Content:     row.Content,
			Application: row.Application,
			WindowTitle: row.WindowTitle,
			Score:       math.Abs(h.Rank) / best,
			Snippet:     processFTSSnippet(h.Snippet),
			Source:      "text",
		})
	}
	return results, nil
}

// semanticResults materializes vector hits; the score is the cosine.
func (e *Engine) semanticResults(ctx context.Context, q string, hits []store.VecHit) ([]Result, error) {
	if len(hits) == 0 {
		return []Result{}, nil
	}

	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := e.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(q)
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		row, ok := rows[h.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			ID:          row.ID,
			TS:          row.TS,
			Kind:        row.Kind,
			Content:     row.Content,
			Application: row.Application,
			WindowTitle: row.WindowTitle,
			Score:       h.Cosine,
			Snippet:     semanticSnippet(row.Content, terms),
			Source:      "semantic",
		})
	}
	return results, nil
}

func (e *Engine) timeoutResponse(start time.Time) *Response {
	return e.timeoutResponseWith(start, nil)
}

func (e *Engine) timeoutResponseWith(start time.Time, warnings []string) *Response {
	metrics.Add(&e.metrics.SearchTimeouts, 1)
	return &Response{
		Results:      []Result{},
		SearchTimeMS: time.Since(start).Milliseconds(),
		Warnings:     appendWarning(warnings, WarnTimeout),
	}
}

// normalizeQuery trims the query and lower-cases everything outside
// double-quoted phrases, which pass through verbatim.
func normalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	var b strings.Builder
	b.Grow(len(q))
	inPhrase := false
	for _, r := range q {
		switch {
		case r == '"':
			inPhrase = !inPhrase
			b.WriteRune(r)
		case inPhrase:
			b.WriteRune(r)
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// queryTerms splits a normalized query into bare words and quoted phrases.
func queryTerms(q string) []string {
	var terms []string
	var cur strings.Builder
	inPhrase := false

	flush := func() {
		if cur.Len() > 0 {
			terms = append(terms, cur.String())
			cur.Reset()
		}
	}
	for _, r := range q {
		switch {
		case r == '"':
			flush()
			inPhrase = !inPhrase
		case unicode.IsSpace(r) && !inPhrase:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return terms
}

// normalizeWeights validates the hybrid weights and scales them to sum 1.
func normalizeWeights(wt, ws float64) (float64, float64, error) {
	if wt < 0 || ws < 0 {
		return 0, 0, keyerrors.NewInvalidQuery("weights must not be negative")
	}
	sum := wt + ws
	if sum == 0 {
		return 0, 0, keyerrors.NewInvalidQuery("text_weight and semantic_weight must not both be zero")
	}
	return wt / sum, ws / sum, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// timedOut reports whether err is the search deadline expiring.
func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil
}

func appendWarning(warnings []string, w string) []string {
	if containsWarning(warnings, w) {
		return warnings
	}
	return append(warnings, w)
}

func containsWarning(warnings []string, w string) bool {
	for _, x := range warnings {
		if x == w {
			return true
		}
	}
	return false
}
