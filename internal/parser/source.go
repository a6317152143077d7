package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// RawRow is one data row keyed by header name. Err is set when the row
// itself is malformed (wrong field count, bad quoting); such rows are
// skipped by the caller, not fatal.
type RawRow struct {
	Index  int
	Fields map[string]string
	Err    error
}

// CSVSource yields RawRows from a CSV stream with a header line.
type CSVSource struct {
	r      *csv.Reader
	header []string
	index  int
	closer func() error
}

// NewCSVSource reads the header line from r.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty input")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	header = append([]string(nil), header...)
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &CSVSource{r: cr, header: header}, nil
}

// OpenFile opens a CSV file, decompressing .gz and .zst transparently.
func OpenFile(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	var src io.Reader = f
	closers := []func() error{f.Close}
	switch {
	case strings.HasSuffix(path, ".zst") || strings.HasSuffix(path, ".zstd"):
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		src = dec
		closers = append([]func() error{func() error { dec.Close(); return nil }}, closers...)
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		src = gz
		closers = append([]func() error{gz.Close}, closers...)
	}

	s, err := NewCSVSource(src)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	s.closer = func() error {
		var first error
		for _, c := range closers {
			if err := c(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
	return s, nil
}

// Header returns the column names.
func (s *CSVSource) Header() []string { return s.header }

// Next returns the next row, or io.EOF when the input is exhausted.
func (s *CSVSource) Next() (RawRow, error) {
	record, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return RawRow{}, io.EOF
	}
	s.index++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return RawRow{Index: s.index, Err: err}, nil
		}
		return RawRow{}, fmt.Errorf("read row %d: %w", s.index, err)
	}
	if len(record) != len(s.header) {
		return RawRow{
			Index: s.index,
			Err:   fmt.Errorf("expected %d fields, got %d", len(s.header), len(record)),
		}, nil
	}
	fields := make(map[string]string, len(s.header))
	for i, name := range s.header {
		fields[name] = record[i]
	}
	return RawRow{Index: s.index, Fields: fields}, nil
}

// Close releases the underlying file, if any.
func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// SliceSource yields pre-built rows; used by tests and in-memory callers.
type SliceSource struct {
	rows []map[string]string
	next int
}

// NewSliceSource wraps rows in a Source.
func NewSliceSource(rows []map[string]string) *SliceSource {
	return &SliceSource{rows: rows}
}

// Next returns the next row, or io.EOF.
func (s *SliceSource) Next() (RawRow, error) {
	if s.next >= len(s.rows) {
		return RawRow{}, io.EOF
	}
	s.next++
	return RawRow{Index: s.next, Fields: s.rows[s.next-1]}, nil
}
