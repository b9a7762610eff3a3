// Package ops implements the command surface shared by the MCP server,
// the CLI, and the web status server. Every operation takes an Input
// struct, validates it, and returns an Output struct; the transports
// only decode, dispatch, and encode.
package ops

import (
	"time"

	"github.com/hpungsan/keyai/internal/store"
)

// searchTimeout bounds a single search operation. An expired deadline
// returns partial results with a warning, not an error.
const searchTimeout = 2 * time.Second

// FilterInput is the wire form of the store filters accepted by the
// search and export operations.
type FilterInput struct {
	From                *int64   `json:"from,omitempty"`
	To                  *int64   `json:"to,omitempty"`
	Applications        []string `json:"applications,omitempty"`
	ExcludeApplications []string `json:"exclude_applications,omitempty"`
	Kind                string   `json:"kind,omitempty"`
}

func (f FilterInput) toStore() store.Filters {
	return store.Filters{
		From:                f.From,
		To:                  f.To,
		Applications:        f.Applications,
		ExcludeApplications: f.ExcludeApplications,
		Kind:                f.Kind,
	}
}
