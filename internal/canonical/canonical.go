// Package canonical converts arbitrary execution results into strictly
// JSON-safe value trees. It never fails: unrepresentable values degrade to a
// string form, and NaN/Infinity collapse to the null sentinel instead of
// leaking as invalid JSON tokens.
package canonical

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// TableLike is a tabular result converted into mapping form before recursion.
type TableLike interface {
	ColumnNames() []string
	NumRows() int
	Value(column string, row int) any
}

// Canonicalize walks a value tree and returns a JSON-safe equivalent. It is
// idempotent on already-canonical input.
func Canonicalize(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case bool, string, int64:
		return typed
	case float64:
		return canonicalFloat(typed)
	case float32:
		return canonicalFloat(float64(typed))
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint64:
		return int64(typed)
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	case TableLike:
		return canonicalTable(typed)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, element := range typed {
			out[key] = Canonicalize(element)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = Canonicalize(element)
		}
		return out
	case error:
		return typed.Error()
	case fmt.Stringer:
		return typed.String()
	}
	return canonicalReflect(value)
}

func canonicalFloat(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return value
}

func canonicalTable(t TableLike) map[string]any {
	out := make(map[string]any, len(t.ColumnNames()))
	for _, name := range t.ColumnNames() {
		column := make([]any, t.NumRows())
		for row := 0; row < t.NumRows(); row++ {
			column[row] = Canonicalize(t.Value(name, row))
		}
		out[name] = column
	}
	return out
}

// canonicalReflect covers maps with non-string keys, typed slices and
// whatever else a program managed to produce. Non-primitive map keys are
// stringified; anything unrecognized falls back to its string form.
func canonicalReflect(value any) any {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return Canonicalize(v.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[stringifyKey(iter.Key().Interface())] = Canonicalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = Canonicalize(v.Index(i).Interface())
		}
		return out
	case reflect.Float32, reflect.Float64:
		return canonicalFloat(v.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprintf("%v", value)
	}
}

func stringifyKey(key any) string {
	switch typed := key.(type) {
	case string:
		return typed
	case time.Time:
		return typed.Format(time.RFC3339)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", typed)
	}
}
