package types

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/xtxerr/telestream/internal/errors"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindInvalid is the zero Value. It is never stored.
	KindInvalid Kind = iota
	// KindNumber is a 64-bit float.
	KindNumber
	// KindText is a UTF-8 string.
	KindText
	// KindRecord is a flattened nested structure: ordered dotted paths to scalars.
	KindRecord
)

// String returns a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindRecord:
		return "record"
	default:
		return "invalid"
	}
}

// Value is the tagged union carried by every sample.
//
// Values are immutable once built; accessors return copies of any slices.
type Value struct {
	kind   Kind
	num    float64
	text   string
	fields []Field
}

// Field is one leaf of a Record: a dotted path (e.g. "pose.position.x") and
// a scalar value (Number or Text).
type Field struct {
	Path  string
	Value Value
}

// Number builds a numeric Value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Text builds a text Value.
func Text(s string) Value {
	return Value{kind: KindText, text: s}
}

// Record builds a Record Value from fields, keeping their order.
// Field shape is validated by the codec, not here.
func Record(fields ...Field) Value {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Value{kind: KindRecord, fields: cp}
}

// NumberField is shorthand for a numeric Record leaf.
func NumberField(path string, f float64) Field {
	return Field{Path: path, Value: Number(f)}
}

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds one of the three variants.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// IsScalar reports whether v is a Number or Text.
func (v Value) IsScalar() bool { return v.kind == KindNumber || v.kind == KindText }

// Number returns the numeric payload and whether v is a Number.
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Text returns the text payload and whether v is Text.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindText
}

// Fields returns a copy of the Record leaves, or nil for other kinds.
func (v Value) Fields() []Field {
	if v.kind != KindRecord {
		return nil
	}
	cp := make([]Field, len(v.fields))
	copy(cp, v.fields)
	return cp
}

// NumFields returns the number of Record leaves.
func (v Value) NumFields() int { return len(v.fields) }

// Lookup returns the leaf at path in a Record.
func (v Value) Lookup(path string) (Value, bool) {
	for _, f := range v.fields {
		if f.Path == path {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Paths returns the Record's leaf paths in order.
func (v Value) Paths() []string {
	if v.kind != KindRecord {
		return nil
	}
	paths := make([]string, len(v.fields))
	for i, f := range v.fields {
		paths[i] = f.Path
	}
	return paths
}

// Equal reports deep equality, including Record field order.
// NaN equals NaN so that round-trip checks on synthetic data hold.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num || (math.IsNaN(v.num) && math.IsNaN(o.num))
	case KindText:
		return v.text == o.text
	case KindRecord:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Path != o.fields[i].Path || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders v for logs.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return "Number(" + strconv.FormatFloat(v.num, 'g', -1, 64) + ")"
	case KindText:
		return "Text(" + strconv.Quote(v.text) + ")"
	case KindRecord:
		var b strings.Builder
		b.WriteString("Record{")
		for i, f := range v.fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Path)
			b.WriteString(": ")
			b.WriteString(f.Value.String())
		}
		b.WriteString("}")
		return b.String()
	default:
		return "Invalid"
	}
}

// =============================================================================
// JSON (plain encoding)
// =============================================================================

// Values use an externally tagged form:
//
//	{"Number": 20.5}
//	{"Text": "hello"}
//	{"Record": [{"path": "pose.x", "value": {"Number": 1}}, ...]}
//
// JSON has no literal for NaN or the infinities, so those Numbers travel as
// the strings "NaN", "Infinity" and "-Infinity". A null Number decodes as
// NaN.

const (
	jsonNaN    = "NaN"
	jsonPosInf = "Infinity"
	jsonNegInf = "-Infinity"
)

type jsonField struct {
	Path  string `json:"path"`
	Value Value  `json:"value"`
}

type jsonValue struct {
	Number json.RawMessage `json:"Number,omitempty"`
	Text   *string         `json:"Text,omitempty"`
	Record *[]jsonField    `json:"Record,omitempty"`
}

func marshalNumber(f float64) json.RawMessage {
	switch {
	case math.IsNaN(f):
		return json.RawMessage(`"` + jsonNaN + `"`)
	case math.IsInf(f, 1):
		return json.RawMessage(`"` + jsonPosInf + `"`)
	case math.IsInf(f, -1):
		return json.RawMessage(`"` + jsonNegInf + `"`)
	default:
		return json.RawMessage(strconv.FormatFloat(f, 'g', -1, 64))
	}
}

func unmarshalNumber(raw json.RawMessage) (float64, error) {
	if string(raw) == "null" {
		return math.NaN(), nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch name {
		case jsonNaN:
			return math.NaN(), nil
		case jsonPosInf:
			return math.Inf(1), nil
		case jsonNegInf:
			return math.Inf(-1), nil
		default:
			return 0, fmt.Errorf("number %q: %w", name, errors.ErrInvalidValueType)
		}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var jv jsonValue
	switch v.kind {
	case KindNumber:
		jv.Number = marshalNumber(v.num)
	case KindText:
		t := v.text
		jv.Text = &t
	case KindRecord:
		fields := make([]jsonField, len(v.fields))
		for i, f := range v.fields {
			fields[i] = jsonField{Path: f.Path, Value: f.Value}
		}
		jv.Record = &fields
	default:
		return nil, fmt.Errorf("marshal value: %w", errors.ErrInvalidValueType)
	}
	return json.Marshal(jv)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var jv jsonValue
	if err := json.Unmarshal(data, &jv); err != nil {
		return err
	}

	set := 0
	if len(jv.Number) > 0 {
		set++
		f, err := unmarshalNumber(jv.Number)
		if err != nil {
			return err
		}
		*v = Number(f)
	}
	if jv.Text != nil {
		set++
		*v = Text(*jv.Text)
	}
	if jv.Record != nil {
		set++
		fields := make([]Field, len(*jv.Record))
		for i, f := range *jv.Record {
			fields[i] = Field{Path: f.Path, Value: f.Value}
		}
		*v = Value{kind: KindRecord, fields: fields}
	}
	if set != 1 {
		return fmt.Errorf("value must have exactly one of Number, Text, Record: %w", errors.ErrInvalidValueType)
	}
	return nil
}
