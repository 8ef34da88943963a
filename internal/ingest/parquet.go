package ingest

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/telestream/internal/store"
	"github.com/xtxerr/telestream/internal/types"
)

// Row is one sample in a Parquet seed file. Exactly one of Number and Text
// is set.
type Row struct {
	Topic  string   `parquet:"topic,dict"`
	Time   uint64   `parquet:"time"`
	Number *float64 `parquet:"number,optional"`
	Text   *string  `parquet:"text,optional"`
}

// RowFromSample converts a scalar sample to a Row. Records have no row form.
func RowFromSample(s types.Sample) (Row, bool) {
	row := Row{Topic: s.Topic, Time: s.Time}
	switch s.Value.Kind() {
	case types.KindNumber:
		n, _ := s.Value.Number()
		row.Number = &n
	case types.KindText:
		t, _ := s.Value.Text()
		row.Text = &t
	default:
		return Row{}, false
	}
	return row, true
}

// Sample converts r back to a sample.
func (r Row) Sample() (types.Sample, bool) {
	s := types.Sample{Topic: r.Topic, Time: r.Time}
	switch {
	case r.Number != nil:
		s.Value = types.Number(*r.Number)
	case r.Text != nil:
		s.Value = types.Text(*r.Text)
	default:
		return types.Sample{}, false
	}
	return s, r.Topic != ""
}

// =============================================================================
// Reader
// =============================================================================

const parquetBatchSize = 4096

// LoadParquet adds every row of the Parquet file at path to st.
func LoadParquet(path string, st *store.Store) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	return ReadParquet(f, st)
}

// ReadParquet adds every row of r to st. Rows with neither value column set
// or an empty topic are skipped and counted.
func ReadParquet(r io.ReaderAt, st *store.Store) (LoadStats, error) {
	var stats LoadStats

	reader := parquet.NewGenericReader[Row](r)
	defer reader.Close()

	rows := make([]Row, parquetBatchSize)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			s, ok := rows[i].Sample()
			if !ok {
				stats.Skipped++
				continue
			}
			st.Add(s)
			stats.Loaded++
		}
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read rows: %w", err)
		}
	}
}

// =============================================================================
// Writer
// =============================================================================

// Writer writes scalar samples as Parquet rows.
type Writer struct {
	w       *parquet.GenericWriter[Row]
	rows    int64
	skipped int64
}

// NewWriter creates a zstd-compressed Parquet writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: parquet.NewGenericWriter[Row](w, parquet.Compression(&parquet.Zstd)),
	}
}

// Write appends samples. Record samples are skipped.
func (w *Writer) Write(samples []types.Sample) error {
	rows := make([]Row, 0, len(samples))
	for _, s := range samples {
		row, ok := RowFromSample(s)
		if !ok {
			w.skipped++
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}

	n, err := w.w.Write(rows)
	w.rows += int64(n)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// Rows returns the number of rows written and the number of samples skipped.
func (w *Writer) Rows() (written, skipped int64) { return w.rows, w.skipped }

// Close flushes the footer. The underlying writer is not closed.
func (w *Writer) Close() error {
	if err := w.w.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
