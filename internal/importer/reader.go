// Package importer implements the streaming bulk import pipeline: row
// reading and batching, per-row transformation, duplicate resolution,
// batch persistence, and progress tracking.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Row is one data row from the source file. Index is the 1-based data row
// number (the header row is not counted). Err marks rows the reader could
// not parse; such rows are counted as errors downstream but never abort
// the stream.
type Row struct {
	Index  int
	Values []string
	Err    string
}

// RowStream is an incremental reader over an uploaded file. Implementations
// never materialize the whole file for CSV sources.
type RowStream interface {
	Headers() []string
	// Next returns the next row, or io.EOF after the last one.
	Next() (Row, error)
	Close() error
}

// Open selects a stream implementation by file extension. Anything that is
// not .xlsx is treated as CSV.
func Open(path string) (RowStream, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return OpenXLSX(path)
	}
	return OpenCSV(path)
}

// CountRows performs one cheap pass over the file and returns the number
// of data rows, for total-row reporting before processing starts.
func CountRows(path string) (int, error) {
	rs, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	n := 0
	for {
		_, err := rs.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// csvStream streams rows from a CSV file.
type csvStream struct {
	f       *os.File
	r       *csv.Reader
	headers []string
	index   int
}

// OpenCSV opens a CSV file and consumes its header row.
func OpenCSV(path string) (*csvStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open csv")
	}

	r := csv.NewReader(f)
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		_ = f.Close()
		if err == io.EOF {
			// Zero-row, zero-header file: valid, just empty.
			return &csvStream{f: f, r: r}, nil
		}
		return nil, eris.Wrap(err, "importer: read csv header")
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(headers[i], "\uFEFF"))
	}

	return &csvStream{f: f, r: r, headers: headers}, nil
}

func (s *csvStream) Headers() []string { return s.headers }

func (s *csvStream) Next() (Row, error) {
	if s.headers == nil {
		return Row{}, io.EOF
	}
	for {
		values, err := s.r.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		s.index++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				// Malformed row: surface as a row-level error, keep going.
				return Row{Index: s.index, Err: err.Error()}, nil
			}
			return Row{}, eris.Wrap(err, "importer: read csv row")
		}
		return Row{Index: s.index, Values: values}, nil
	}
}

func (s *csvStream) Close() error { return s.f.Close() }

// xlsxStream iterates the first sheet of a workbook. XLSX files are
// loaded by the library up front; only the large-file streaming guarantee
// applies to CSV sources.
type xlsxStream struct {
	headers []string
	rows    []*xlsx.Row
	pos     int
}

// OpenXLSX opens the first sheet of an XLSX workbook.
func OpenXLSX(path string) (*xlsxStream, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("importer: xlsx has no sheets")
	}

	rows := f.Sheets[0].Rows
	s := &xlsxStream{}
	if len(rows) > 0 {
		s.headers = rowStrings(rows[0])
		s.rows = rows[1:]
	}
	return s, nil
}

func (s *xlsxStream) Headers() []string { return s.headers }

func (s *xlsxStream) Next() (Row, error) {
	if s.pos >= len(s.rows) {
		return Row{}, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return Row{Index: s.pos, Values: rowStrings(row)}, nil
}

func (s *xlsxStream) Close() error { return nil }

func rowStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		cells[i] = c.String()
	}
	return cells
}

// Batch is the unit of work handed to the batch processor.
type Batch struct {
	// Start is the 1-based data row index of the first row.
	Start int
	Rows  []Row
}

// Batches reads rows off the stream into fixed-size batches on a separate
// goroutine. The returned channel has capacity 1, so the reader runs at
// most one batch ahead of processing. The returned wait function reports
// the terminal read error, if any, once the channel is drained.
func Batches(ctx context.Context, rs RowStream, size int) (<-chan Batch, func() error) {
	out := make(chan Batch, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var batch Batch
		flush := func() bool {
			if len(batch.Rows) == 0 {
				return true
			}
			select {
			case out <- batch:
				batch = Batch{}
				return true
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			}
		}

		for {
			row, err := rs.Next()
			if err == io.EOF {
				flush()
				return
			}
			if err != nil {
				errCh <- err
				return
			}
			if len(batch.Rows) == 0 {
				batch.Start = row.Index
			}
			batch.Rows = append(batch.Rows, row)
			if len(batch.Rows) >= size {
				if !flush() {
					return
				}
			}
		}
	}()

	return out, func() error { return <-errCh }
}
