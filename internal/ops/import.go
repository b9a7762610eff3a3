package ops

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	stderrors "errors"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
	"github.com/hpungsan/keyai/internal/pipeline"
	"github.com/hpungsan/keyai/internal/store"
)

// ImportInput names the export file to load.
type ImportInput struct {
	Path string `json:"path"`
}

// ImportOutput reports what was loaded.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// ImportError describes one rejected line.
type ImportError struct {
	Line    int    `json:"line"`
	ID      int64  `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import loads an export file produced by Export. Ids are preserved;
// the whole import is rejected if any id already exists in the store.
// Content is re-masked before insertion so a hand-edited file cannot
// smuggle raw PII past the redaction boundary. Vectors are not
// imported; the backfill sweep regenerates them.
func Import(ctx context.Context, p *pipeline.Pipeline, input ImportInput) (*ImportOutput, error) {
	if err := ValidatePath(input.Path, PathCheckRead, p.BaseDir()); err != nil {
		return nil, err
	}

	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(input.Path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, keyerrors.NewInvalidQuery(fmt.Sprintf("not a gzip file: %v", err))
		}
		defer gz.Close()
		r = gz
	}

	rows, parseErrors, err := parseExportFile(p, r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &ImportOutput{Skipped: len(parseErrors), Errors: parseErrors}, nil
	}

	if err := p.Store().ImportRows(ctx, rows); err != nil {
		if stderrors.Is(err, store.ErrDuplicateID) {
			return nil, keyerrors.NewInvalidQuery(err.Error())
		}
		return nil, keyerrors.NewStoreTransient(err)
	}

	// Queue the imported text rows for embedding in the background.
	go func() {
		if _, err := p.Backfill(context.Background()); err != nil {
			// Picked up by the next optimize or process start.
			_ = err
		}
	}()

	return &ImportOutput{
		Imported: len(rows),
		Skipped:  len(parseErrors),
		Errors:   parseErrors,
	}, nil
}

// parseExportFile reads records, skipping the header and re-masking
// every text field.
func parseExportFile(p *pipeline.Pipeline, r io.Reader) ([]store.EventRow, []ImportError, error) {
	var rows []store.EventRow
	var parseErrors []ImportError

	sc := newScanner(r)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if lineNum == 1 {
			var header ExportHeader
			if err := json.Unmarshal([]byte(line), &header); err == nil && header.KeyaiExport {
				if header.SchemaVersion > exportSchemaVersion {
					return nil, nil, keyerrors.NewInvalidQuery(
						fmt.Sprintf("unsupported export schema version %d", header.SchemaVersion))
				}
				continue
			}
		}

		var rec ExportRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line: lineNum, Code: "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if rec.ID <= 0 {
			parseErrors = append(parseErrors, ImportError{
				Line: lineNum, Code: "INVALID_RECORD", Message: "missing id field",
			})
			continue
		}

		row, err := remask(p, rec.EventRow)
		if err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line: lineNum, ID: rec.ID, Code: "MASK_REJECTED", Message: err.Error(),
			})
			continue
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, keyerrors.NewInternal(fmt.Errorf("read import file: %w", err))
	}
	return rows, parseErrors, nil
}

// remask runs every text field back through the redaction table. For
// files produced by Export this is a no-op; masking is idempotent.
func remask(p *pipeline.Pipeline, row store.EventRow) (store.EventRow, error) {
	content, _, err := p.Masker().MaskText(row.Content)
	if err != nil {
		return store.EventRow{}, err
	}
	app, _, err := p.Masker().MaskText(row.Application)
	if err != nil {
		return store.EventRow{}, err
	}
	title, _, err := p.Masker().MaskText(row.WindowTitle)
	if err != nil {
		return store.EventRow{}, err
	}
	row.Content = content
	row.Application = app
	row.WindowTitle = title
	return row, nil
}
