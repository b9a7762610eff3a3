package ops

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/keyai/internal/store"
)

// TestFullWorkflow exercises the complete event lifecycle:
// insert → search → suggest → export → optimize → backup → clear → stats
func TestFullWorkflow(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	// 1. Seed masked events the way the persist stage would
	ids, err := p.Store().InsertBatch(ctx, []store.EventRow{
		{TS: 1000, Kind: "text", Content: "drafting the quarterly budget review", Application: "Editor", WindowTitle: "budget.md"},
		{TS: 2000, Kind: "text", Content: "email to [EMAIL] about the offsite", Application: "Mail"},
		{TS: 3000, Kind: "key", Content: "F5", Application: "Browser"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// 2. Lexical search finds the budget note
	resp, err := SearchText(ctx, p, SearchTextInput{Query: "budget"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "Editor", resp.Results[0].Application)
	require.NotEmpty(t, resp.Results[0].Snippet)

	// 3. The query is now remembered
	sug := Suggestions(p, SuggestionsInput{Prefix: "bud"})
	require.NotEmpty(t, sug.Suggestions)
	require.Equal(t, "budget", sug.Suggestions[0].Query)

	// 4. Export everything
	exp, err := Export(ctx, p, ExportInput{})
	require.NoError(t, err)
	require.Equal(t, 3, exp.Count)
	_, err = os.Stat(exp.Path)
	require.NoError(t, err)

	// 5. Optimize runs cleanly alongside the data
	opt, err := Optimize(ctx, p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, opt.DurationMS, int64(0))

	// 6. Backup produces a non-empty encrypted copy
	bak, err := Backup(ctx, p, BackupInput{})
	require.NoError(t, err)
	require.Greater(t, bak.SizeBytes, int64(0))

	// 7. Clear wipes the store
	cleared, err := Clear(ctx, p, ClearInput{Confirm: true})
	require.NoError(t, err)
	require.Equal(t, int64(3), cleared.DeletedEvents)

	// 8. Stats confirm an empty store
	stats, err := Stats(ctx, p)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Store.EventCount)
}
