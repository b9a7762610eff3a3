package ops

import (
	"context"

	"github.com/hpungsan/keyai/internal/pipeline"
	"github.com/hpungsan/keyai/internal/search"
)

// SearchTextInput parameterizes a lexical search.
type SearchTextInput struct {
	Query  string `json:"query"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	FilterInput
}

// SearchText runs a lexical query under the operation deadline.
func SearchText(ctx context.Context, p *pipeline.Pipeline, input SearchTextInput) (*search.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	return p.Engine().SearchText(ctx, search.Request{
		Query:   input.Query,
		Limit:   input.Limit,
		Offset:  input.Offset,
		Filters: input.toStore(),
	})
}

// SearchSemanticInput parameterizes a semantic search. A nil Threshold
// uses the default; an explicit 0 accepts everything.
type SearchSemanticInput struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	FilterInput
}

// SearchSemantic runs a cosine-similarity query under the operation
// deadline.
func SearchSemantic(ctx context.Context, p *pipeline.Pipeline, input SearchSemanticInput) (*search.Response, error) {
	threshold := search.DefaultThreshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	return p.Engine().SearchSemantic(ctx, search.Request{
		Query:     input.Query,
		Limit:     input.Limit,
		Threshold: threshold,
		Filters:   input.toStore(),
	})
}

// SearchHybridInput parameterizes a fused search. Nil weights use the
// defaults; explicit weights are normalized to sum 1.
type SearchHybridInput struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit,omitempty"`
	TextWeight     *float64 `json:"text_weight,omitempty"`
	SemanticWeight *float64 `json:"semantic_weight,omitempty"`
	FilterInput
}

// SearchHybrid runs both modes and fuses them with reciprocal rank
// fusion.
func SearchHybrid(ctx context.Context, p *pipeline.Pipeline, input SearchHybridInput) (*search.Response, error) {
	wt, ws := search.DefaultTextWeight, search.DefaultSemanticWeight
	if input.TextWeight != nil || input.SemanticWeight != nil {
		wt, ws = 0, 0
		if input.TextWeight != nil {
			wt = *input.TextWeight
		}
		if input.SemanticWeight != nil {
			ws = *input.SemanticWeight
		}
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	return p.Engine().SearchHybrid(ctx, search.Request{
		Query:          input.Query,
		Limit:          input.Limit,
		TextWeight:     wt,
		SemanticWeight: ws,
		Filters:        input.toStore(),
	})
}

// SuggestionsInput filters the remembered-query table.
type SuggestionsInput struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SuggestionsOutput lists past queries, most frequent first.
type SuggestionsOutput struct {
	Suggestions []search.Suggestion `json:"suggestions"`
}

// Suggestions lists remembered queries matching an optional prefix.
func Suggestions(p *pipeline.Pipeline, input SuggestionsInput) *SuggestionsOutput {
	return &SuggestionsOutput{
		Suggestions: p.Engine().Suggestions().List(input.Prefix, input.Limit),
	}
}
