package web

import (
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/ops"
	"github.com/hpungsan/keyai/internal/pipeline"
	"github.com/hpungsan/keyai/internal/search"
)

// Handlers contains HTTP route handlers for the status server.
type Handlers struct {
	p       *pipeline.Pipeline
	version string
	log     zerolog.Logger
}

// HandleHealth handles GET /api/health. Degraded and unhealthy states
// map to 503 so load checkers can poll without parsing the body.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := ops.Health(r.Context(), h.p)
	status := http.StatusOK
	if health.Status == pipeline.StatusUnhealthy || health.Status == pipeline.StatusDegraded {
		status = http.StatusServiceUnavailable
	}
	renderJSON(w, status, health)
}

// HandleStatus handles GET /api/status — the live capture view.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.CaptureStatus(h.p))
}

// HandleStats handles GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ops.Stats(r.Context(), h.p)
	if err != nil {
		h.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, stats)
}

// HandleMetrics handles GET /api/metrics.
func (h *Handlers) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.GetMetrics(h.p))
}

// HandleSearch handles GET /api/search?q=...&mode=text|semantic|hybrid.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := parseIntParam(r, "limit", 0)
	offset := parseIntParam(r, "offset", 0)

	var resp *search.Response
	var err error
	switch mode := r.URL.Query().Get("mode"); mode {
	case "", "text":
		resp, err = ops.SearchText(r.Context(), h.p, ops.SearchTextInput{
			Query: q, Limit: limit, Offset: offset,
		})
	case "semantic":
		resp, err = ops.SearchSemantic(r.Context(), h.p, ops.SearchSemanticInput{
			Query: q, Limit: limit,
		})
	case "hybrid":
		resp, err = ops.SearchHybrid(r.Context(), h.p, ops.SearchHybridInput{
			Query: q, Limit: limit,
		})
	default:
		h.renderError(w, keyerrors.NewInvalidQuery("unknown search mode: "+mode))
		return
	}
	if err != nil {
		h.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, resp)
}

// renderError writes a structured error payload. Internal error details
// never reach the response body.
func (h *Handlers) renderError(w http.ResponseWriter, err error) {
	keyErr, ok := err.(*keyerrors.KeyError)
	if !ok {
		keyErr = keyerrors.NewInternal(err)
	}
	errorObj := map[string]any{
		"code":    keyErr.Code,
		"message": keyErr.Message,
	}
	if keyErr.Code != keyerrors.ErrInternal && keyErr.Details != nil {
		errorObj["details"] = keyErr.Details
	}
	if keyErr.Code == keyerrors.ErrInternal {
		h.log.Error().Err(err).Msg("request failed")
	}
	renderJSON(w, keyErr.Status, map[string]any{"error": errorObj})
}

// renderJSON writes a JSON response with the given status code.
func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
