package codec

import (
	"bytes"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/types"
)

// =============================================================================
// Schema
// =============================================================================

func fixedFields() []arrow.Field {
	return []arrow.Field{
		{Name: constants.ColumnTopic, Type: arrow.BinaryTypes.String},
		{Name: constants.ColumnTime, Type: arrow.PrimitiveTypes.Uint64},
	}
}

func arrowType(k types.Kind) (arrow.DataType, error) {
	switch k {
	case types.KindNumber:
		return arrow.PrimitiveTypes.Float64, nil
	case types.KindText:
		return arrow.BinaryTypes.String, nil
	default:
		return nil, errors.Encodef(errors.ErrUnsupportedLeaf, "no column type for %s", k)
	}
}

// columnsFor returns the value columns of a sample, in order.
func columnsFor(v types.Value, fields []types.Field) ([]arrow.Field, []types.Value, error) {
	if v.Kind() != types.KindRecord {
		dt, err := arrowType(v.Kind())
		if err != nil {
			return nil, nil, err
		}
		return []arrow.Field{{Name: constants.ColumnData, Type: dt}}, []types.Value{v}, nil
	}

	cols := make([]arrow.Field, len(fields))
	vals := make([]types.Value, len(fields))
	for i, f := range fields {
		dt, err := arrowType(f.Value.Kind())
		if err != nil {
			return nil, nil, err
		}
		cols[i] = arrow.Field{Name: f.Path, Type: dt}
		vals[i] = f.Value
	}
	return cols, vals, nil
}

// =============================================================================
// Encoding
// =============================================================================

// encodeColumnar writes one sample as a single-row Arrow IPC file. For Record
// values fields holds the leaves in final column order.
func encodeColumnar(mem memory.Allocator, opts []ipc.Option, s types.Sample, fields []types.Field) ([]byte, error) {
	valueFields, vals, err := columnsFor(s.Value, fields)
	if err != nil {
		return nil, err
	}

	md := arrow.NewMetadata([]string{constants.MetadataKind}, []string{s.Value.Kind().String()})
	schema := arrow.NewSchema(append(fixedFields(), valueFields...), &md)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).Append(s.Topic)
	b.Field(1).(*array.Uint64Builder).Append(s.Time)
	for i, v := range vals {
		switch fb := b.Field(i + 2).(type) {
		case *array.Float64Builder:
			n, _ := v.Number()
			fb.Append(n)
		case *array.StringBuilder:
			t, _ := v.Text()
			fb.Append(t)
		default:
			return nil, errors.Encodef(errors.ErrUnsupportedLeaf, "column %q", schema.Field(i+2).Name)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, append([]ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(mem)}, opts...)...)
	if err != nil {
		return nil, errors.Encodef(err, "open ipc writer")
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, errors.Encodef(err, "write record")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Encodef(err, "close ipc writer")
	}
	return buf.Bytes(), nil
}

// =============================================================================
// Decoding
// =============================================================================

// DecodeColumnar parses a columnar frame back into a Sample. The embedded
// schema is read on every call; nothing is cached between frames.
//
// Value columns may be Float64, Int64 or Utf8. Int64 columns decode to
// Number. Without the kind metadata, a lone "data" column decodes as a
// Number or Text sample and anything else as a Record.
func DecodeColumnar(frame []byte) (types.Sample, error) {
	if len(frame) == 0 {
		return types.Sample{}, errors.Decodef(errors.ErrEmptyFrame, "columnar frame")
	}

	r, err := ipc.NewFileReader(bytes.NewReader(frame))
	if err != nil {
		return types.Sample{}, errors.Decodef(err, "open ipc file")
	}
	defer r.Close()

	if r.NumRecords() != 1 {
		return types.Sample{}, errors.Decodef(errors.ErrUnexpectedFrame, "want 1 record batch, got %d", r.NumRecords())
	}
	rec, err := r.RecordAt(0)
	if err != nil {
		return types.Sample{}, errors.Decodef(err, "read record batch")
	}
	defer rec.Release()

	if rec.NumRows() != 1 {
		return types.Sample{}, errors.Decodef(errors.ErrUnexpectedFrame, "want 1 row, got %d", rec.NumRows())
	}
	return sampleFromRecord(r.Schema(), rec)
}

func sampleFromRecord(schema *arrow.Schema, rec arrow.Record) (types.Sample, error) {
	ncols := int(rec.NumCols())
	if ncols < 3 {
		return types.Sample{}, errors.Decodef(errors.ErrSchemaMismatch, "want at least 3 columns, got %d", ncols)
	}
	if rec.ColumnName(0) != constants.ColumnTopic || rec.ColumnName(1) != constants.ColumnTime {
		return types.Sample{}, errors.Decodef(errors.ErrSchemaMismatch,
			"fixed columns are %q, %q", rec.ColumnName(0), rec.ColumnName(1))
	}

	topicCol, ok := rec.Column(0).(*array.String)
	if !ok || topicCol.IsNull(0) {
		return types.Sample{}, errors.Decodef(errors.ErrSchemaMismatch, "topic column is %s", rec.Column(0).DataType())
	}
	timeCol, ok := rec.Column(1).(*array.Uint64)
	if !ok || timeCol.IsNull(0) {
		return types.Sample{}, errors.Decodef(errors.ErrSchemaMismatch, "time column is %s", rec.Column(1).DataType())
	}

	s := types.Sample{Topic: topicCol.Value(0), Time: timeCol.Value(0)}

	leaves := make([]types.Field, 0, ncols-2)
	for i := 2; i < ncols; i++ {
		v, err := scalarAt(rec.Column(i))
		if err != nil {
			return types.Sample{}, errors.Decodef(err, "column %q", rec.ColumnName(i))
		}
		leaves = append(leaves, types.Field{Path: rec.ColumnName(i), Value: v})
	}

	switch kindOf(schema, leaves) {
	case types.KindRecord:
		s.Value = types.Record(leaves...)
	default:
		if len(leaves) != 1 {
			return types.Sample{}, errors.Decodef(errors.ErrSchemaMismatch, "scalar sample with %d value columns", len(leaves))
		}
		s.Value = leaves[0].Value
	}
	return s, nil
}

func kindOf(schema *arrow.Schema, leaves []types.Field) types.Kind {
	md := schema.Metadata()
	if i := md.FindKey(constants.MetadataKind); i >= 0 {
		switch md.Values()[i] {
		case types.KindNumber.String():
			return types.KindNumber
		case types.KindText.String():
			return types.KindText
		case types.KindRecord.String():
			return types.KindRecord
		}
	}
	if len(leaves) == 1 && leaves[0].Path == constants.ColumnData {
		return leaves[0].Value.Kind()
	}
	return types.KindRecord
}

func scalarAt(col arrow.Array) (types.Value, error) {
	if col.Len() < 1 || col.IsNull(0) {
		return types.Value{}, errors.ErrInvalidValueType
	}
	switch c := col.(type) {
	case *array.Float64:
		return types.Number(c.Value(0)), nil
	case *array.Int64:
		return types.Number(float64(c.Value(0))), nil
	case *array.String:
		return types.Text(c.Value(0)), nil
	default:
		return types.Value{}, errors.Wrapf(errors.ErrSchemaMismatch, "unsupported column type %s", col.DataType())
	}
}
