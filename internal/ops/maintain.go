package ops

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/pipeline"
)

// OptimizeOutput reports the maintenance work performed.
type OptimizeOutput struct {
	BackfilledVectors int   `json:"backfilled_vectors"`
	DurationMS        int64 `json:"duration_ms"`
}

// Optimize consolidates the FTS index, compacts the file, and backfills
// missing vectors. Safe to run while capturing.
func Optimize(ctx context.Context, p *pipeline.Pipeline) (*OptimizeOutput, error) {
	start := time.Now()
	if err := p.Store().Optimize(ctx); err != nil {
		return nil, keyerrors.NewStoreTransient(err)
	}
	n, err := p.Backfill(ctx)
	if err != nil {
		return nil, err
	}
	return &OptimizeOutput{
		BackfilledVectors: n,
		DurationMS:        time.Since(start).Milliseconds(),
	}, nil
}

// ClearInput guards the destructive wipe.
type ClearInput struct {
	Confirm bool `json:"confirm"`
}

// ClearOutput reports how many events were deleted.
type ClearOutput struct {
	DeletedEvents int64 `json:"deleted_events"`
}

// Clear deletes every event and vector and compacts the file. Ids are
// not reset: the sequence keeps growing for the lifetime of the file.
// Refused without explicit confirmation.
func Clear(ctx context.Context, p *pipeline.Pipeline, input ClearInput) (*ClearOutput, error) {
	if !input.Confirm {
		return nil, keyerrors.NewInvalidQuery("clear requires confirm=true")
	}
	deleted, err := p.Store().Clear(ctx)
	if err != nil {
		return nil, keyerrors.NewStoreTransient(err)
	}
	return &ClearOutput{DeletedEvents: deleted}, nil
}

// BackupInput names the destination file. Empty uses a timestamped file
// in the exports directory.
type BackupInput struct {
	Path string `json:"path,omitempty"`
}

// BackupOutput reports where the copy landed.
type BackupOutput struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Backup writes a compacted, still-encrypted copy of the database. The
// copy opens with the same key as the original.
func Backup(ctx context.Context, p *pipeline.Pipeline, input BackupInput) (*BackupOutput, error) {
	path := input.Path
	if path == "" {
		name := fmt.Sprintf("keyai-%s.db", time.Now().Format("2006-01-02T150405"))
		path = filepath.Join(ExportsDir(p.BaseDir()), name)
	}
	if err := ValidateBackupPath(path, p.BaseDir()); err != nil {
		return nil, err
	}
	if err := p.Store().Backup(ctx, path); err != nil {
		return nil, keyerrors.NewStoreTransient(err)
	}
	size := fileSize(path)
	return &BackupOutput{Path: path, SizeBytes: size}, nil
}

// ReplayDeadLetterOutput reports the replay result.
type ReplayDeadLetterOutput struct {
	ReplayedEvents int   `json:"replayed_events"`
	RemainingFiles int64 `json:"remaining_files"`
}

// ReplayDeadLetter pushes stored batches back through the store now,
// oldest first, stopping at the first write failure.
func ReplayDeadLetter(ctx context.Context, p *pipeline.Pipeline) (*ReplayDeadLetterOutput, error) {
	n, err := p.ReplayDeadLetter(ctx)
	if err != nil {
		return nil, keyerrors.NewStoreTransient(err)
	}
	files, _ := p.DeadLetter().Size()
	return &ReplayDeadLetterOutput{ReplayedEvents: n, RemainingFiles: files}, nil
}
