package persistence

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// SuccessRecord captures the prompt configuration of a successful run.
type SuccessRecord struct {
	Goal                string
	InstantiationPrompt string
	Constraints         string
	Tips                string
}

// SuccessTable is the append-only log of successful runs.
type SuccessTable interface {
	Append(ctx context.Context, record SuccessRecord) error
	Records(ctx context.Context) ([]SuccessRecord, error)
	Close() error
}

var successHeader = []string{"Goal", "InstantiationPrompt", "Constraints", "Tips"}

// CSVSuccessTable stores records in a CSV file with a fixed header. Rows are
// only ever appended, so earlier rows stay byte-identical.
type CSVSuccessTable struct {
	path string
	mu   sync.Mutex
}

// OpenCSVSuccessTable opens path, creating it with a header when missing.
func OpenCSVSuccessTable(path string) (*CSVSuccessTable, error) {
	if path == "" {
		return nil, errors.New("success table path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case err == nil:
		w := csv.NewWriter(f)
		if err := w.Write(successHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrExist):
	default:
		return nil, err
	}
	return &CSVSuccessTable{path: path}, nil
}

// Append writes one row at the end of the file.
func (t *CSVSuccessTable) Append(ctx context.Context, record SuccessRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open success table: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{record.Goal, record.InstantiationPrompt, record.Constraints, record.Tips}); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Records reads every row after the header.
func (t *CSVSuccessTable) Records(ctx context.Context) ([]SuccessRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.Open(t.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = len(successHeader)
	var records []SuccessRecord
	for first := true; ; first = false {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read success table: %w", err)
		}
		if first {
			continue
		}
		records = append(records, SuccessRecord{Goal: row[0], InstantiationPrompt: row[1], Constraints: row[2], Tips: row[3]})
	}
	return records, nil
}

// Close is a no-op; the file is reopened on every append.
func (t *CSVSuccessTable) Close() error { return nil }
