package ops

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/pipeline"
	"github.com/hpungsan/keyai/internal/store"
)

// exportSchemaVersion tracks the export file format.
const exportSchemaVersion = 1

// ExportHeader is the first line of every export file.
type ExportHeader struct {
	KeyaiExport   bool   `json:"_keyai_export"`
	SchemaVersion int    `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
	ModelTag      string `json:"model_tag,omitempty"`
}

// ExportRecord is one event line. Embedding is present only when the
// export includes embeddings.
type ExportRecord struct {
	store.EventRow
	Embedding []float32 `json:"embedding,omitempty"`
}

// ExportInput parameterizes an export. An empty Path uses a timestamped
// file in the exports directory; a ".gz" suffix enables compression.
type ExportInput struct {
	Path              string `json:"path,omitempty"`
	From              *int64 `json:"from,omitempty"`
	To                *int64 `json:"to,omitempty"`
	IncludeEmbeddings bool   `json:"include_embeddings,omitempty"`
}

// ExportOutput reports the written file.
type ExportOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export streams events to a JSONL file, one event per line after a
// header line. The write goes to a temp file first and is renamed into
// place, so a failure never clobbers an existing export. Content in the
// file is already masked; the file itself is plaintext and leaves the
// encrypted boundary.
func Export(ctx context.Context, p *pipeline.Pipeline, input ExportInput) (*ExportOutput, error) {
	now := time.Now()
	path := input.Path
	if path == "" {
		path = filepath.Join(ExportsDir(p.BaseDir()),
			fmt.Sprintf("events-%s.jsonl", now.Format("2006-01-02T150405")))
	}
	if err := ValidatePath(path, PathCheckWrite, p.BaseDir()); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, keyerrors.NewInternal(fmt.Errorf("create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, keyerrors.NewInternal(err)
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, keyerrors.NewInternal(fmt.Errorf("create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	var w io.Writer = file
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(file)
		w = gz
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(ExportHeader{
		KeyaiExport:   true,
		SchemaVersion: exportSchemaVersion,
		ExportedAt:    now.UnixMilli(),
		ModelTag:      p.Config().EmbeddingModelTag,
	}); err != nil {
		return nil, keyerrors.NewInternal(err)
	}

	count := 0
	err = p.Store().ForEachEvent(ctx, input.From, input.To, func(r store.EventRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := ExportRecord{EventRow: r}
		if input.IncludeEmbeddings {
			vec, _, ok, err := p.Store().Embedding(ctx, r.ID)
			if err != nil {
				return err
			}
			if ok {
				rec.Embedding = vec
			}
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return nil, keyerrors.NewStoreTransient(err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, keyerrors.NewInternal(err)
		}
	}
	if err := file.Sync(); err != nil {
		return nil, keyerrors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, keyerrors.NewInternal(fmt.Errorf("close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, keyerrors.NewInvalidQuery("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, keyerrors.NewInvalidQuery("export destination already exists")
			}
		}
		return nil, keyerrors.NewInternal(fmt.Errorf("finalize export: %w", err))
	}

	success = true
	return &ExportOutput{Path: path, Count: count, ExportedAt: now.UnixMilli()}, nil
}

// newScanner builds a line scanner with a buffer large enough for long
// masked runs.
func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}
