package csvbackend

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/notewatch/internal/storage"
)

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

// bom is written at the start of every table so spreadsheet tools detect UTF-8.
const bom = "\ufeff"

// noDataHeader is the placeholder column used for tables without rows or a
// known header.
var noDataHeader = []string{"message"}

type csvBackend struct {
	mu   sync.Mutex
	path string
}

// New creates a CSV-backed storage.Backend over a single table file. Save
// replaces the table; Query reads it back. The file is created on first Save.
func New(filePath string) (storage.Backend, error) {
	if filePath == "" {
		return nil, errors.New("csvbackend: empty path")
	}
	return &csvBackend{path: filePath}, nil
}

func (b *csvBackend) Save(ctx context.Context, rows []storage.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(rows) == 0 {
		return WriteTable(b.path, nil, nil)
	}

	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.Record())
	}
	return WriteTable(b.path, storage.Columns, records)
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]storage.Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	header, records, err := ReadTable(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []storage.Row{}, nil
		}
		return nil, err
	}
	if isNoData(header) {
		return []storage.Row{}, nil
	}

	out := make([]storage.Row, 0, len(records))
	for _, rec := range records {
		r := storage.RowFromRecord(header, rec)
		if !filter.Match(r) {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (b *csvBackend) Close() error {
	return nil
}

// WriteTable writes header and records to path, replacing any existing file
// and creating parent directories. A nil header with no records produces a
// single "message" column reading "no data".
func WriteTable(path string, header []string, records [][]string) error {
	if len(records) == 0 && len(header) == 0 {
		header = noDataHeader
		records = [][]string{{"no data"}}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("csvbackend: mkdir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csvbackend: create: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := bw.WriteString(bom); err != nil {
		return fmt.Errorf("csvbackend: write: %w", err)
	}

	w := csv.NewWriter(bw)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("csvbackend: write header: %w", err)
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("csvbackend: write records: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("csvbackend: flush: %w", err)
	}
	return f.Close()
}

// ReadTable reads a table written by WriteTable (or any UTF-8 CSV, with or
// without a byte order mark). Short and long records are tolerated.
func ReadTable(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("csvbackend: open: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if prefix, err := br.Peek(len(bom)); err == nil && string(prefix) == bom {
		_, _ = br.Discard(len(bom))
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("csvbackend: read header: %w", err)
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("csvbackend: read record: %w", err)
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func isNoData(header []string) bool {
	return len(header) == 0 || (len(header) == 1 && header[0] == noDataHeader[0])
}
