package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/metrics"
	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
)

// Table is a CSV backed table of observations for one deployment schema
type Table struct {
	path   string
	schema *schema.Schema
	logger zerolog.Logger
	newID  func() string
}

// LoadResult is the outcome of reading a whole table
type LoadResult struct {
	Rows    []record.Observation
	Skipped int
	Errors  []*record.ParseError
}

// row is a raw CSV record with its decoded form, kept together so rewrites can
// carry undecodable rows through untouched
type row struct {
	fields []string
	obs    record.Observation
	err    *record.ParseError
}

var (
	writersMu sync.Mutex
	writers   = make(map[string]*sync.Mutex)
)

// writerFor returns the in-process write mutex for a path
func writerFor(path string) *sync.Mutex {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}

	writersMu.Lock()
	defer writersMu.Unlock()

	mu, ok := writers[key]
	if !ok {
		mu = &sync.Mutex{}
		writers[key] = mu
	}
	return mu
}

// NewTable creates a table bound to a file path
func NewTable(path string, s *schema.Schema, logger zerolog.Logger) *Table {
	return &Table{
		path:   path,
		schema: s,
		logger: logger.With().Str("component", "store").Str("table", s.Name).Logger(),
		newID:  uuid.NewString,
	}
}

// Path returns the backing file path
func (t *Table) Path() string {
	return t.path
}

// Schema returns the table schema
func (t *Table) Schema() *schema.Schema {
	return t.schema
}

// EnsureSchema creates the backing file with a header row if it is absent or
// empty. An existing file with a different header is rejected.
func (t *Table) EnsureSchema() error {
	unlock, err := t.lockWrite()
	if err != nil {
		return err
	}
	defer unlock()

	return t.ensureHeaderLocked()
}

// Load reads every row. A missing file is an empty table. Rows that fail to
// decode are skipped and reported in the result.
func (t *Table) Load() (*LoadResult, error) {
	start := time.Now()
	defer func() {
		metrics.StoreLoadDuration.WithLabelValues(t.schema.Name).Observe(time.Since(start).Seconds())
	}()

	rows, _, err := t.readShared()
	if err != nil {
		return nil, err
	}

	result := &LoadResult{Rows: make([]record.Observation, 0, len(rows))}
	for _, r := range rows {
		if r.err != nil {
			t.logger.Warn().
				Int("line", r.err.Line).
				Str("field", r.err.Field).
				Err(r.err.Err).
				Msg("skipping malformed row")
			result.Skipped++
			result.Errors = append(result.Errors, r.err)
			continue
		}
		result.Rows = append(result.Rows, r.obs)
	}

	if result.Skipped > 0 {
		metrics.StoreRowsSkipped.WithLabelValues(t.schema.Name).Add(float64(result.Skipped))
	}
	return result, nil
}

// Append validates an observation and writes it as one new line. The file is
// created with its header first when absent. The stored observation is
// returned with its assigned id.
func (t *Table) Append(obs record.Observation) (record.Observation, error) {
	prepared, err := t.schema.Prepare(obs)
	if err != nil {
		return record.Observation{}, err
	}

	unlock, err := t.lockWrite()
	if err != nil {
		return record.Observation{}, err
	}
	defer unlock()

	if err := t.ensureHeaderLocked(); err != nil {
		return record.Observation{}, err
	}

	if t.schema.IDColumn() == "" {
		rows, _, err := t.readRows()
		if err != nil {
			return record.Observation{}, err
		}
		prepared.ID = t.derivedID(len(rows) + 1)
	} else if prepared.ID == "" {
		prepared.ID = t.newID()
	} else {
		if err := t.checkUniqueLocked(prepared.ID); err != nil {
			return record.Observation{}, err
		}
	}

	if err := t.appendLine(t.schema.Encode(prepared)); err != nil {
		metrics.StoreFailures.WithLabelValues(t.schema.Name, "append").Inc()
		return record.Observation{}, err
	}

	metrics.StoreRowsAppended.WithLabelValues(t.schema.Name).Inc()
	t.logger.Debug().Str("id", prepared.ID).Msg("observation appended")
	return prepared, nil
}

// UpdateMatching applies mutate to every row matching pred and rewrites the
// file atomically. Rows that cannot be decoded are written back verbatim.
// Returns the rows as written, in file order.
func (t *Table) UpdateMatching(pred func(record.Observation) bool, mutate func(record.Observation) record.Observation) ([]record.Observation, error) {
	unlock, err := t.lockWrite()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, exists, err := t.readRows()
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	out := make([][]string, 0, len(rows)+1)
	out = append(out, t.schema.Header())

	var updated []record.Observation
	for _, r := range rows {
		if r.err != nil || !pred(r.obs) {
			out = append(out, r.fields)
			continue
		}

		changed := mutate(r.obs.Clone())
		if changed.ID != r.obs.ID {
			return nil, &record.ValidationError{
				Field:   "id",
				Value:   changed.ID,
				Message: "ids cannot be changed by an update",
			}
		}

		prepared, err := t.schema.Prepare(changed)
		if err != nil {
			return nil, err
		}
		out = append(out, t.schema.Encode(prepared))
		updated = append(updated, prepared)
	}

	if len(updated) == 0 {
		return nil, nil
	}

	if err := t.rewrite(out); err != nil {
		metrics.StoreFailures.WithLabelValues(t.schema.Name, "rewrite").Inc()
		return nil, err
	}

	metrics.StoreRewrites.WithLabelValues(t.schema.Name).Inc()
	t.logger.Info().Int("updated", len(updated)).Msg("table rewritten")
	return updated, nil
}

// FindLatest returns the row with the greatest orderField among rows whose
// keyField equals keyValue, or nil when none match. The first maximum wins.
func (t *Table) FindLatest(keyField, keyValue, orderField string) (*record.Observation, error) {
	keyCol, ok := t.schema.Column(keyField)
	if !ok {
		return nil, &record.ValidationError{Field: keyField, Message: "not a " + t.schema.Name + " column", Err: record.ErrUnknownField}
	}
	orderCol, ok := t.schema.Column(orderField)
	if !ok {
		return nil, &record.ValidationError{Field: orderField, Message: "not a " + t.schema.Name + " column", Err: record.ErrUnknownField}
	}

	result, err := t.Load()
	if err != nil {
		return nil, err
	}

	var latest *record.Observation
	for i := range result.Rows {
		obs := &result.Rows[i]
		if keyOf(obs, keyCol) != keyValue {
			continue
		}
		if !orderable(obs, orderCol) {
			continue
		}
		if latest == nil || less(latest, obs, orderCol) {
			latest = obs
		}
	}

	if latest == nil {
		return nil, nil
	}
	found := latest.Clone()
	return &found, nil
}

// Export writes the header and the given rows in the table's CSV format
func (t *Table) Export(w io.Writer, rows []record.Observation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.schema.Header()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, obs := range rows {
		if err := cw.Write(t.schema.Encode(obs)); err != nil {
			return fmt.Errorf("failed to write row %s: %w", obs.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func keyOf(obs *record.Observation, c schema.Column) string {
	if c.Kind == schema.KindID {
		return obs.ID
	}
	return strings.TrimSpace(obs.Get(c.Name).String())
}

func orderable(obs *record.Observation, c schema.Column) bool {
	switch c.Kind {
	case schema.KindDate:
		return true
	case schema.KindNumber:
		_, ok := obs.Float(c.Name)
		return ok
	default:
		return true
	}
}

func less(a, b *record.Observation, c schema.Column) bool {
	switch c.Kind {
	case schema.KindDate:
		return a.Timestamp.Before(b.Timestamp)
	case schema.KindNumber:
		av, _ := a.Float(c.Name)
		bv, _ := b.Float(c.Name)
		return av < bv
	case schema.KindID:
		return a.ID < b.ID
	default:
		return a.Get(c.Name).String() < b.Get(c.Name).String()
	}
}

// derivedID is the stable id of the n-th data row of a table without an id
// column. Rows are never reordered, so the ordinal is stable.
func (t *Table) derivedID(ordinal int) string {
	name := fmt.Sprintf("%s/%s#%d", t.schema.Name, filepath.Base(t.path), ordinal)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (t *Table) checkUniqueLocked(id string) error {
	rows, _, err := t.readRows()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.err == nil && r.obs.ID == id {
			return &record.ValidationError{Field: t.schema.IDColumn(), Value: id, Message: "must be unique", Err: record.ErrDuplicateID}
		}
	}
	return nil
}

// lockWrite serializes writers within the process and across processes
func (t *Table) lockWrite() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return nil, &record.StorageError{Op: "create directory for", Path: t.path, Err: err}
	}

	mu := writerFor(t.path)
	mu.Lock()

	fl := flock.New(t.path + ".lock")
	if err := fl.Lock(); err != nil {
		mu.Unlock()
		return nil, &record.StorageError{Op: "lock", Path: t.path, Err: err}
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			t.logger.Error().Err(err).Msg("failed to release table lock")
		}
		mu.Unlock()
	}, nil
}

// readShared reads the table under a shared lock
func (t *Table) readShared() ([]row, bool, error) {
	if _, err := os.Stat(t.path); errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}

	fl := flock.New(t.path + ".lock")
	if err := fl.RLock(); err != nil {
		return nil, false, &record.StorageError{Op: "lock", Path: t.path, Err: err}
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			t.logger.Error().Err(err).Msg("failed to release table lock")
		}
	}()

	return t.readRows()
}

// readRows decodes every data row. The caller holds a lock.
func (t *Table) readRows() ([]row, bool, error) {
	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		metrics.StoreFailures.WithLabelValues(t.schema.Name, "read").Inc()
		return nil, false, &record.StorageError{Op: "open", Path: t.path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, true, nil
	}
	if err != nil {
		return nil, true, &record.StorageError{Op: "read header of", Path: t.path, Err: err}
	}
	if !t.schema.MatchesHeader(header) {
		return nil, true, t.mismatch(header)
	}

	idColumn := t.schema.IDColumn()

	var rows []row
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			metrics.StoreFailures.WithLabelValues(t.schema.Name, "read").Inc()
			return nil, true, &record.StorageError{Op: "read", Path: t.path, Err: err}
		}
		line, _ := r.FieldPos(0)

		obs, err := t.schema.Decode(fields, line)
		if idColumn == "" {
			obs.ID = t.derivedID(len(rows) + 1)
		}

		var parseErr *record.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			parseErr = &record.ParseError{Line: line, Err: err}
		}
		rows = append(rows, row{fields: fields, obs: obs, err: parseErr})
	}
	return rows, true, nil
}

func (t *Table) mismatch(header []string) error {
	return fmt.Errorf("%w: %s expects [%s], file has [%s]",
		record.ErrSchemaMismatch, t.path,
		strings.Join(t.schema.Header(), ","), strings.Join(header, ","))
}

// ensureHeaderLocked writes the header when the file is absent or empty and
// verifies it otherwise. The caller holds the write lock.
func (t *Table) ensureHeaderLocked() error {
	info, err := os.Stat(t.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &record.StorageError{Op: "stat", Path: t.path, Err: err}
	}

	if err != nil || info.Size() == 0 {
		if err := t.rewrite([][]string{t.schema.Header()}); err != nil {
			metrics.StoreFailures.WithLabelValues(t.schema.Name, "create").Inc()
			return err
		}
		t.logger.Info().Str("path", t.path).Msg("table created")
		return nil
	}

	f, err := os.Open(t.path)
	if err != nil {
		return &record.StorageError{Op: "open", Path: t.path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil && err != io.EOF {
		return &record.StorageError{Op: "read header of", Path: t.path, Err: err}
	}
	if !t.schema.MatchesHeader(header) {
		return t.mismatch(header)
	}
	return nil
}

// appendLine writes one encoded record with a single write call
func (t *Table) appendLine(fields []string) error {
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return &record.StorageError{Op: "open", Path: t.path, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	if missing, err := missingTrailingNewline(f); err != nil {
		return &record.StorageError{Op: "read", Path: t.path, Err: err}
	} else if missing {
		buf.WriteByte('\n')
	}

	cw := csv.NewWriter(&buf)
	if err := cw.Write(fields); err != nil {
		return &record.StorageError{Op: "encode row for", Path: t.path, Err: err}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return &record.StorageError{Op: "encode row for", Path: t.path, Err: err}
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return &record.StorageError{Op: "append to", Path: t.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &record.StorageError{Op: "sync", Path: t.path, Err: err}
	}
	return nil
}

func missingTrailingNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

// rewrite replaces the whole file through a temp file and rename
func (t *Table) rewrite(records [][]string) error {
	pf, err := renameio.NewPendingFile(t.path, renameio.WithPermissions(0o644))
	if err != nil {
		return &record.StorageError{Op: "create temp file for", Path: t.path, Err: err}
	}
	defer pf.Cleanup()

	cw := csv.NewWriter(pf)
	if err := cw.WriteAll(records); err != nil {
		return &record.StorageError{Op: "write", Path: t.path, Err: err}
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return &record.StorageError{Op: "replace", Path: t.path, Err: err}
	}
	return nil
}
