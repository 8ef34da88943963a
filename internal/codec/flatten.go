package codec

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/xtxerr/telestream/internal/constants"
	"github.com/xtxerr/telestream/internal/errors"
	"github.com/xtxerr/telestream/internal/types"
)

var valueType = reflect.TypeOf(types.Value{})

// MaxDepth bounds how deeply Flatten descends. Deeper values, including
// self-referencing pointers, are ErrUnsupportedLeaf.
const MaxDepth = 64

// Flatten walks a nested Go value and returns its leaves as dotted paths, in
// a deterministic order:
//
//   - struct fields in declaration order, named by their json tag if present
//   - map entries (string keys only) sorted by key
//   - slice and array elements by index
//
// Numeric leaves (ints, uints, floats) become Number, strings become Text.
// Integers are converted to float64, exact up to 2^53.
// A types.Value leaf is taken as is; a Record Value is inlined under its path.
// Any other leaf kind is ErrUnsupportedLeaf.
func Flatten(v any) ([]types.Field, error) {
	var out []types.Field
	if err := flattenInto(&out, "", reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Encodef(errors.ErrMalformedRecord, "no leaves")
	}
	return out, nil
}

// ToRecord flattens v into a Record Value.
func ToRecord(v any) (types.Value, error) {
	fields, err := Flatten(v)
	if err != nil {
		return types.Value{}, err
	}
	return types.Record(fields...), nil
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + constants.PathSeparator + name
}

func flattenInto(out *[]types.Field, path string, rv reflect.Value, depth int) error {
	if depth > MaxDepth {
		return errors.Encodef(errors.ErrUnsupportedLeaf, "nesting deeper than %d at %q", MaxDepth, path)
	}
	if !rv.IsValid() {
		return errors.Encodef(errors.ErrUnsupportedLeaf, "nil at %q", path)
	}

	if rv.Type() == valueType {
		val := rv.Interface().(types.Value)
		switch val.Kind() {
		case types.KindNumber, types.KindText:
			*out = append(*out, types.Field{Path: path, Value: val})
			return nil
		case types.KindRecord:
			for _, f := range val.Fields() {
				if err := flattenInto(out, join(path, f.Path), reflect.ValueOf(f.Value), depth+1); err != nil {
					return err
				}
			}
			return nil
		default:
			return errors.Encodef(errors.ErrUnsupportedLeaf, "invalid value at %q", path)
		}
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return errors.Encodef(errors.ErrUnsupportedLeaf, "nil at %q", path)
		}
		return flattenInto(out, path, rv.Elem(), depth+1)

	case reflect.Float32, reflect.Float64:
		*out = append(*out, types.NumberField(path, rv.Float()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*out = append(*out, types.NumberField(path, float64(rv.Int())))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*out = append(*out, types.NumberField(path, float64(rv.Uint())))
	case reflect.String:
		*out = append(*out, types.Field{Path: path, Value: types.Text(rv.String())})

	case reflect.Struct:
		t := rv.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name, skip := fieldName(sf)
			if skip {
				continue
			}
			sub := join(path, name)
			if sf.Anonymous && name == sf.Name {
				// Embedded structs without a tag are inlined.
				sub = path
			}
			if err := flattenInto(out, sub, rv.Field(i), depth+1); err != nil {
				return err
			}
		}

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return errors.Encodef(errors.ErrUnsupportedLeaf, "map with %s keys at %q", rv.Type().Key(), path)
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		for _, k := range keys {
			mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			if err := flattenInto(out, join(path, k), mv, depth+1); err != nil {
				return err
			}
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := flattenInto(out, join(path, strconv.Itoa(i)), rv.Index(i), depth+1); err != nil {
				return err
			}
		}

	default:
		return errors.Encodef(errors.ErrUnsupportedLeaf, "%s at %q", rv.Kind(), path)
	}
	return nil
}

func fieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if tag != "" {
		if n, _, _ := strings.Cut(tag, ","); n != "" {
			return n, false
		}
	}
	return sf.Name, false
}

// ValidateRecord checks that a Record is encodable: at least one leaf, no
// empty or duplicate paths, no reserved column names, scalar leaves only.
func ValidateRecord(v types.Value) error {
	if v.Kind() != types.KindRecord {
		return errors.Encodef(errors.ErrMalformedRecord, "not a record: %s", v.Kind())
	}
	fields := v.Fields()
	if len(fields) == 0 {
		return errors.Encodef(errors.ErrMalformedRecord, "record has no fields")
	}

	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		switch f.Path {
		case "":
			return errors.Encodef(errors.ErrMalformedRecord, "empty field path")
		case constants.ColumnTopic, constants.ColumnTime:
			return errors.Encodef(errors.ErrMalformedRecord, "field path %q collides with fixed column", f.Path)
		}
		if _, dup := seen[f.Path]; dup {
			return errors.Encodef(errors.ErrMalformedRecord, "duplicate field path %q", f.Path)
		}
		seen[f.Path] = struct{}{}
		if !f.Value.IsScalar() {
			return errors.Encodef(errors.ErrMalformedRecord, "field %q is %s, want scalar", f.Path, f.Value.Kind())
		}
	}
	return nil
}

// describeShape renders a path list for error messages.
func describeShape(paths []string) string {
	if len(paths) > 6 {
		return fmt.Sprintf("[%s ... +%d]", strings.Join(paths[:6], ", "), len(paths)-6)
	}
	return "[" + strings.Join(paths, ", ") + "]"
}
