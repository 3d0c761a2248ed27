package importer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)
	for _, row := range rows {
		r := sheet.AddRow()
		for _, v := range row {
			r.AddCell().Value = v
		}
	}
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestOpenCSV_HeadersAndRows(t *testing.T) {
	path := writeCSV(t, "Name,Email\nJane,jane@example.com\nJohn,john@example.com\n")

	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	assert.Equal(t, []string{"Name", "Email"}, rs.Headers())

	row, err := rs.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, row.Index)
	assert.Equal(t, []string{"Jane", "jane@example.com"}, row.Values)

	row, err = rs.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, row.Index)

	_, err = rs.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOpenCSV_StripsBOM(t *testing.T) {
	path := writeCSV(t, "\uFEFFName,Email\nJane,jane@example.com\n")

	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	assert.Equal(t, []string{"Name", "Email"}, rs.Headers())
}

func TestOpenCSV_EmptyFile(t *testing.T) {
	path := writeCSV(t, "")

	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	assert.Empty(t, rs.Headers())
	_, err = rs.Next()
	assert.Equal(t, io.EOF, err)

	n, err := CountRows(path)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenCSV_RaggedRows(t *testing.T) {
	path := writeCSV(t, "a,b,c\n1,2\n1,2,3,4\n")

	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	row, err := rs.Next()
	require.NoError(t, err)
	assert.Len(t, row.Values, 2)

	row, err = rs.Next()
	require.NoError(t, err)
	assert.Len(t, row.Values, 4)
}

func TestCountRows(t *testing.T) {
	path := writeCSV(t, "Name\nJane\nJohn\nJill\n")
	n, err := CountRows(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestOpenXLSX_FirstSheet(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"Name", "Email"},
		{"Jane", "jane@example.com"},
		{"John", "john@example.com"},
	})

	rs, err := Open(path)
	require.NoError(t, err)
	defer rs.Close()

	assert.Equal(t, []string{"Name", "Email"}, rs.Headers())

	row, err := rs.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, row.Index)
	assert.Equal(t, []string{"Jane", "jane@example.com"}, row.Values)

	n, err := CountRows(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBatches_SizeAndTrailingPartial(t *testing.T) {
	path := writeCSV(t, "Name\na\nb\nc\nd\ne\n")
	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	batches, wait := Batches(context.Background(), rs, 2)

	var sizes []int
	var starts []int
	for b := range batches {
		sizes = append(sizes, len(b.Rows))
		starts = append(starts, b.Start)
	}
	require.NoError(t, wait())

	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{1, 3, 5}, starts)
}

func TestBatches_SingleBatch(t *testing.T) {
	path := writeCSV(t, "Name\na\nb\n")
	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	batches, wait := Batches(context.Background(), rs, 500)
	b, open := <-batches
	require.True(t, open)
	assert.Len(t, b.Rows, 2)

	_, open = <-batches
	assert.False(t, open)
	require.NoError(t, wait())
}

func TestBatches_ContextCancelStopsReader(t *testing.T) {
	path := writeCSV(t, "Name\na\nb\nc\nd\n")
	rs, err := OpenCSV(path)
	require.NoError(t, err)
	defer rs.Close()

	ctx, cancel := context.WithCancel(context.Background())
	batches, wait := Batches(ctx, rs, 1)

	// Leave the channel undrained so the reader blocks, then cancel.
	cancel()
	err = wait()
	assert.ErrorIs(t, err, context.Canceled)

	for range batches {
	}
}
