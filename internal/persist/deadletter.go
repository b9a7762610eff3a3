package persist

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/hpungsan/keyai/internal/logging"
	"github.com/hpungsan/keyai/internal/metrics"
	"github.com/hpungsan/keyai/internal/store"
)

// deadLetterSuffix is the extension of dead-letter data files. Filenames
// are "<ulid>.jsonl.gz"; ULIDs sort lexicographically by creation time,
// so a string sort of the directory is oldest-first.
const deadLetterSuffix = ".jsonl.gz"

// DeadLetter keeps batches that exhausted their write retries on local
// disk as gzip-compressed JSONL, one event per line. The directory is
// capped at maxBytes; past the cap the oldest files are evicted.
type DeadLetter struct {
	dir      string
	maxBytes int64
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu        sync.Mutex
	sizeBytes int64
	fileCount int64
}

// DeadLetterFile describes one stored batch.
type DeadLetterFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
}

// OpenDeadLetter creates the directory if needed and restores the size
// accounting from the files already present.
func OpenDeadLetter(dir string, maxBytes int64, m *metrics.Metrics) (*DeadLetter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create dead-letter dir: %w", err)
	}

	d := &DeadLetter{
		dir:      dir,
		maxBytes: maxBytes,
		metrics:  m,
		log:      logging.Component("deadletter"),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan dead-letter dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), deadLetterSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		d.sizeBytes += info.Size()
		d.fileCount++
	}
	d.publishGauges()

	return d, nil
}

// Dir returns the directory dead-letter files live in.
func (d *DeadLetter) Dir() string { return d.dir }

// Save writes one batch as a new dead-letter file, evicting the oldest
// files first when the directory would exceed its cap. Events that still
// do not fit are dropped.
func (d *DeadLetter) Save(rows []store.EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	data, err := encodeJSONLGZ(rows)
	if err != nil {
		return fmt.Errorf("encode dead-letter batch: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ensureCapacityLocked(int64(len(data))) {
		d.log.Error().Int("events", len(rows)).Int("bytes", len(data)).
			Msg("dead-letter directory full, dropping batch")
		return fmt.Errorf("dead-letter directory full")
	}

	name := newDeadLetterName()
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write dead-letter file: %w", err)
	}

	d.sizeBytes += int64(len(data))
	d.fileCount++
	metrics.Add(&d.metrics.DeadLetterBatches, 1)
	metrics.Add(&d.metrics.DeadLetterEvents, int64(len(rows)))
	d.publishGauges()

	d.log.Warn().Str("file", name).Int("events", len(rows)).
		Msg("batch written to dead letter")
	return nil
}

// Replay feeds every stored batch back through sink, oldest first, and
// removes files whose batch was accepted. It stops at the first sink
// failure so the remaining files survive for the next attempt. Files
// that cannot be decoded are discarded. Returns the number of events
// replayed.
func (d *DeadLetter) Replay(ctx context.Context, sink Sink) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.listLocked()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}

		path := filepath.Join(d.dir, name)
		rows, err := decodeJSONLGZFile(path)
		if err != nil {
			d.log.Warn().Err(err).Str("file", name).Msg("discarding unreadable dead-letter file")
			d.removeLocked(path)
			metrics.Add(&d.metrics.DeadLetterExpired, 1)
			continue
		}

		if _, err := sink.InsertBatch(ctx, rows); err != nil {
			return replayed, fmt.Errorf("replay %s: %w", name, err)
		}

		d.removeLocked(path)
		replayed += len(rows)
		metrics.Add(&d.metrics.DeadLetterReplayed, int64(len(rows)))
	}
	d.publishGauges()
	return replayed, nil
}

// Files lists the stored batches, oldest first.
func (d *DeadLetter) Files() ([]DeadLetterFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.listLocked()
	if err != nil {
		return nil, err
	}
	files := make([]DeadLetterFile, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(d.dir, name))
		if err != nil {
			continue
		}
		files = append(files, DeadLetterFile{Name: name, SizeBytes: info.Size()})
	}
	return files, nil
}

// Size reports the current file count and total bytes.
func (d *DeadLetter) Size() (files int64, bytes int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fileCount, d.sizeBytes
}

// ensureCapacityLocked evicts oldest files until incoming fits under the
// cap. Returns false when the directory cannot make room.
func (d *DeadLetter) ensureCapacityLocked(incoming int64) bool {
	if d.maxBytes <= 0 {
		return true
	}
	for d.sizeBytes+incoming > d.maxBytes {
		names, err := d.listLocked()
		if err != nil || len(names) == 0 {
			return d.sizeBytes+incoming <= d.maxBytes
		}
		oldest := filepath.Join(d.dir, names[0])
		d.log.Warn().Str("file", names[0]).Msg("dead-letter capacity, evicting oldest")
		d.removeLocked(oldest)
		metrics.Add(&d.metrics.DeadLetterExpired, 1)
	}
	return true
}

// listLocked returns data file names sorted oldest first.
func (d *DeadLetter) listLocked() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("list dead-letter dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), deadLetterSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *DeadLetter) removeLocked(path string) {
	if info, err := os.Stat(path); err == nil {
		d.sizeBytes -= info.Size()
		d.fileCount--
	}
	_ = os.Remove(path)
	d.publishGauges()
}

func (d *DeadLetter) publishGauges() {
	metrics.Store(&d.metrics.DeadLetterFiles, d.fileCount)
	metrics.Store(&d.metrics.DeadLetterBytes, d.sizeBytes)
}

func newDeadLetterName() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String() + deadLetterSuffix
}

// encodeJSONLGZ serializes rows as gzip-compressed JSONL.
func encodeJSONLGZ(rows []store.EventRow) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(gz)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			gz.Close()
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJSONLGZFile(path string) ([]store.EventRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	var rows []store.EventRow
	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r store.EventRow
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, err
		}
		r.ID = 0
		rows = append(rows, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty dead-letter file")
	}
	return rows, nil
}
