package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/wonny/optchain/internal/contracts"
)

// WriteError reports a failed partition write; the target file is left unchanged
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write partition %s: %v", e.Path, e.Err)
}

// Unwrap matches both contracts.ErrWrite and the cause
func (e *WriteError) Unwrap() []error {
	return []error{contracts.ErrWrite, e.Err}
}

// WriteFile writes rows to path atomically (temp file + rename).
// Every struct field is a column, so the schema does not depend on which values are set.
func WriteFile[T any](path string, rows []T, codec Codec) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	// 실패 시 임시 파일 제거
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := parquet.NewGenericWriter[T](tmp, parquet.Compression(codec.Compression()))
	if _, err = w.Write(rows); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("encode rows: %w", err)}
	}
	if err = w.Close(); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("close writer: %w", err)}
	}
	if err = tmp.Sync(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// ReadFile reads every row of a part file
func ReadFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// ReadFiles concatenates the rows of several part files
func ReadFiles[T any](paths []string) ([]T, error) {
	var out []T
	for _, p := range paths {
		rows, err := ReadFile[T](p)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// ReplacePartition rewrites a partition as a single part-000 file and removes the other parts
func ReplacePartition[T any](dir string, rows []T, codec Codec) (string, error) {
	old, err := PartFiles(dir)
	if err != nil {
		return "", err
	}

	target := filepath.Join(dir, PartFileName(0))
	if err := WriteFile(target, rows, codec); err != nil {
		return "", err
	}

	var errs []error
	for _, p := range old {
		if p == target {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return target, &WriteError{Path: dir, Err: errors.Join(errs...)}
	}
	return target, nil
}

// Writer writes OptionRow partitions with the codec for their date
type Writer struct {
	layout Layout
}

// NewWriter creates a writer over layout
func NewWriter(layout Layout) *Writer {
	return &Writer{layout: layout}
}

// Layout returns the writer's layout
func (w *Writer) Layout() Layout {
	return w.layout
}

// WritePart writes rows to part <index> of a partition
func (w *Writer) WritePart(root string, view View, p PartitionKey, index int, rows []contracts.OptionRow, codec Codec) (string, error) {
	path := w.layout.PartitionPath(root, view, p.Date, p.Underlying, p.Exchange, index)
	if err := WriteFile(path, rows, codec); err != nil {
		return "", err
	}
	return path, nil
}

// ReadPartition reads all rows of one partition
func (w *Writer) ReadPartition(root string, view View, p PartitionKey) ([]contracts.OptionRow, error) {
	files, err := PartFiles(w.layout.PartitionDir(root, view, p.Date, p.Underlying, p.Exchange))
	if err != nil {
		return nil, err
	}
	return ReadFiles[contracts.OptionRow](files)
}
