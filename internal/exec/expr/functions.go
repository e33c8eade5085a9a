package expr

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sheetwise/sheetwise/internal/table"
)

// Series is an ordered list of cell values, nulls included as nil.
type Series struct {
	Values []any
}

// Grouping is an ordered key -> value mapping produced by groupby.
type Grouping struct {
	Keys   []string
	Values []any
}

// callFunction dispatches the fixed arena. Nothing here touches the
// filesystem, network, process table, or reflection.
func (e *env) callFunction(name string, args []any) (any, error) {
	switch strings.ToLower(name) {
	case "sheet":
		return e.fnSheet(args)
	case "col", "column":
		return fnCol(args)
	case "filter":
		return fnFilter(args)
	case "rows":
		return fnRows(args)
	case "sum":
		return fnSum(args)
	case "avg", "mean":
		return fnAvg(args)
	case "min":
		return fnMinMax(args, false)
	case "max":
		return fnMinMax(args, true)
	case "count":
		return fnCount(args)
	case "len":
		return fnLen(args)
	case "unique":
		return fnUnique(args)
	case "groupby":
		return fnGroupBy(args)
	case "top":
		return fnTop(args)
	case "argmax":
		return fnArg(args, true)
	case "argmin":
		return fnArg(args, false)
	case "keys":
		return fnKeys(args)
	case "values":
		return fnValues(args)
	case "first":
		return fnFirstLast(args, true)
	case "last":
		return fnFirstLast(args, false)
	case "abs":
		return fnAbs(args)
	case "round":
		return fnRound(args)
	case "str":
		return fnStr(args)
	case "num", "float", "int":
		return fnNum(args)
	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

func wantArgs(name string, args []any, min, max int) error {
	if len(args) < min || len(args) > max {
		return fmt.Errorf("%s expects %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func argTable(name string, args []any, index int) (*table.NormalizedTable, error) {
	t, ok := args[index].(*table.NormalizedTable)
	if !ok {
		return nil, fmt.Errorf("%s: argument %d must be a table", name, index+1)
	}
	return t, nil
}

func argString(name string, args []any, index int) (string, error) {
	s, ok := args[index].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string", name, index+1)
	}
	return s, nil
}

func argNumber(name string, args []any, index int) (float64, error) {
	n, ok := args[index].(float64)
	if !ok {
		return 0, fmt.Errorf("%s: argument %d must be a number", name, index+1)
	}
	return n, nil
}

func (e *env) fnSheet(args []any) (any, error) {
	if err := wantArgs("sheet", args, 1, 1); err != nil {
		return nil, err
	}
	name, err := argString("sheet", args, 0)
	if err != nil {
		return nil, err
	}
	t, ok := e.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown sheet %q", name)
	}
	return t, nil
}

func fnCol(args []any) (any, error) {
	if err := wantArgs("col", args, 2, 2); err != nil {
		return nil, err
	}
	t, err := argTable("col", args, 0)
	if err != nil {
		return nil, err
	}
	name, err := argString("col", args, 1)
	if err != nil {
		return nil, err
	}
	column, ok := t.ColumnFold(name)
	if !ok {
		return nil, fmt.Errorf("unknown column %q in sheet %q", name, t.Sheet)
	}
	values := make([]any, column.Len())
	for row := 0; row < column.Len(); row++ {
		values[row] = column.Value(row)
	}
	return &Series{Values: values}, nil
}

func fnFilter(args []any) (any, error) {
	if err := wantArgs("filter", args, 4, 4); err != nil {
		return nil, err
	}
	t, err := argTable("filter", args, 0)
	if err != nil {
		return nil, err
	}
	name, err := argString("filter", args, 1)
	if err != nil {
		return nil, err
	}
	op, err := argString("filter", args, 2)
	if err != nil {
		return nil, err
	}
	target := args[3]

	column, ok := t.ColumnFold(name)
	if !ok {
		return nil, fmt.Errorf("unknown column %q in sheet %q", name, t.Sheet)
	}
	keep := make([]int, 0, t.NumRows())
	for row := 0; row < t.NumRows(); row++ {
		match, err := compare(column.Value(row), op, target)
		if err != nil {
			return nil, err
		}
		if match {
			keep = append(keep, row)
		}
	}
	return selectRows(t, keep)
}

func compare(cell any, op string, target any) (bool, error) {
	switch op {
	case "==", "eq", "=":
		return equalValues(cell, target), nil
	case "!=", "ne":
		return cell != nil && !equalValues(cell, target), nil
	case "contains":
		if cell == nil {
			return false, nil
		}
		needle, ok := target.(string)
		if !ok {
			needle = renderScalar(target)
		}
		return strings.Contains(strings.ToLower(renderScalar(cell)), strings.ToLower(needle)), nil
	case ">", "gt", ">=", "ge", "<", "lt", "<=", "le":
		left, lok := numericValue(cell)
		right, rok := numericValue(target)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case ">", "gt":
			return left > right, nil
		case ">=", "ge":
			return left >= right, nil
		case "<", "lt":
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, fmt.Errorf("unknown filter operator %q", op)
	}
}

func equalValues(cell, target any) bool {
	if cell == nil {
		return target == nil
	}
	if left, lok := numericValue(cell); lok {
		if right, rok := numericValue(target); rok {
			return left == right
		}
	}
	return strings.EqualFold(renderScalar(cell), renderScalar(target))
}

// numericValue coerces cells and filter targets to float64 where sensible.
// Dates compare by unix seconds so range filters work on datetime columns.
func numericValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case time.Time:
		return float64(typed.Unix()), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func renderScalar(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case time.Time:
		return typed.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(typed)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func selectRows(t *table.NormalizedTable, keep []int) (*table.NormalizedTable, error) {
	columns := make([]*table.Column, 0, t.NumColumns())
	for _, src := range t.Columns() {
		dst := &table.Column{
			Name:            src.Name,
			Kind:            src.Kind,
			Nulls:           make([]bool, len(keep)),
			ParseConfidence: src.ParseConfidence,
			Promoted:        src.Promoted,
		}
		switch src.Kind {
		case table.KindNumeric:
			dst.Floats = make([]float64, len(keep))
		case table.KindDatetime:
			dst.Times = make([]time.Time, len(keep))
		case table.KindBool:
			dst.Bools = make([]bool, len(keep))
		default:
			dst.Strings = make([]string, len(keep))
		}
		for i, row := range keep {
			dst.Nulls[i] = src.Nulls[row]
			switch src.Kind {
			case table.KindNumeric:
				dst.Floats[i] = src.Floats[row]
			case table.KindDatetime:
				dst.Times[i] = src.Times[row]
			case table.KindBool:
				dst.Bools[i] = src.Bools[row]
			default:
				dst.Strings[i] = src.Strings[row]
			}
		}
		columns = append(columns, dst)
	}
	return table.NewNormalizedTable(t.Sheet, columns)
}

func fnRows(args []any) (any, error) {
	if err := wantArgs("rows", args, 1, 1); err != nil {
		return nil, err
	}
	t, err := argTable("rows", args, 0)
	if err != nil {
		return nil, err
	}
	return float64(t.NumRows()), nil
}

func asSeries(name string, value any) (*Series, error) {
	switch typed := value.(type) {
	case *Series:
		return typed, nil
	case *Grouping:
		return &Series{Values: typed.Values}, nil
	default:
		return nil, fmt.Errorf("%s: argument must be a series", name)
	}
}

func fnSum(args []any) (any, error) {
	if err := wantArgs("sum", args, 1, 1); err != nil {
		return nil, err
	}
	series, err := asSeries("sum", args[0])
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, value := range series.Values {
		if value == nil {
			continue
		}
		n, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("sum over non-numeric value %v", value)
		}
		total += n
	}
	return total, nil
}

func fnAvg(args []any) (any, error) {
	if err := wantArgs("avg", args, 1, 1); err != nil {
		return nil, err
	}
	series, err := asSeries("avg", args[0])
	if err != nil {
		return nil, err
	}
	total, count := 0.0, 0
	for _, value := range series.Values {
		if value == nil {
			continue
		}
		n, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("avg over non-numeric value %v", value)
		}
		total += n
		count++
	}
	if count == 0 {
		return nil, nil
	}
	return total / float64(count), nil
}

func fnMinMax(args []any, wantMax bool) (any, error) {
	name := "min"
	if wantMax {
		name = "max"
	}
	if err := wantArgs(name, args, 1, 2); err != nil {
		return nil, err
	}
	if len(args) == 2 {
		left, lerr := argNumber(name, args, 0)
		right, rerr := argNumber(name, args, 1)
		if lerr != nil || rerr != nil {
			return nil, fmt.Errorf("%s over two values needs numbers", name)
		}
		if wantMax {
			return math.Max(left, right), nil
		}
		return math.Min(left, right), nil
	}
	series, err := asSeries(name, args[0])
	if err != nil {
		return nil, err
	}
	var best any
	for _, value := range series.Values {
		if value == nil {
			continue
		}
		if best == nil {
			best = value
			continue
		}
		greater, err := compareOrdered(value, best)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if greater == wantMax {
			best = value
		}
	}
	return best, nil
}

// compareOrdered reports whether a > b for numbers, dates and strings.
func compareOrdered(a, b any) (bool, error) {
	if left, lok := numericValue(a); lok {
		if right, rok := numericValue(b); rok {
			return left > right, nil
		}
	}
	ls, lok := a.(string)
	rs, rok := b.(string)
	if lok && rok {
		return ls > rs, nil
	}
	return false, fmt.Errorf("cannot order %T against %T", a, b)
}

func fnCount(args []any) (any, error) {
	if err := wantArgs("count", args, 1, 1); err != nil {
		return nil, err
	}
	if t, ok := args[0].(*table.NormalizedTable); ok {
		return float64(t.NumRows()), nil
	}
	series, err := asSeries("count", args[0])
	if err != nil {
		return nil, err
	}
	count := 0
	for _, value := range series.Values {
		if value != nil {
			count++
		}
	}
	return float64(count), nil
}

func fnLen(args []any) (any, error) {
	if err := wantArgs("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch typed := args[0].(type) {
	case *table.NormalizedTable:
		return float64(typed.NumRows()), nil
	case *Series:
		return float64(len(typed.Values)), nil
	case *Grouping:
		return float64(len(typed.Keys)), nil
	case string:
		return float64(len(typed)), nil
	default:
		return nil, fmt.Errorf("len: unsupported argument %T", args[0])
	}
}

func fnUnique(args []any) (any, error) {
	if err := wantArgs("unique", args, 1, 1); err != nil {
		return nil, err
	}
	series, err := asSeries("unique", args[0])
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	out := make([]any, 0)
	for _, value := range series.Values {
		if value == nil {
			continue
		}
		key := renderScalar(value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}
	return &Series{Values: out}, nil
}

func fnGroupBy(args []any) (any, error) {
	if err := wantArgs("groupby", args, 4, 4); err != nil {
		return nil, err
	}
	t, err := argTable("groupby", args, 0)
	if err != nil {
		return nil, err
	}
	keyName, err := argString("groupby", args, 1)
	if err != nil {
		return nil, err
	}
	valueName, err := argString("groupby", args, 2)
	if err != nil {
		return nil, err
	}
	agg, err := argString("groupby", args, 3)
	if err != nil {
		return nil, err
	}

	keyCol, ok := t.ColumnFold(keyName)
	if !ok {
		return nil, fmt.Errorf("unknown column %q in sheet %q", keyName, t.Sheet)
	}
	valueCol, ok := t.ColumnFold(valueName)
	if !ok {
		return nil, fmt.Errorf("unknown column %q in sheet %q", valueName, t.Sheet)
	}

	order := make([]string, 0)
	buckets := make(map[string][]any)
	for row := 0; row < t.NumRows(); row++ {
		key := keyCol.Value(row)
		if key == nil {
			continue
		}
		rendered := renderScalar(key)
		if _, exists := buckets[rendered]; !exists {
			order = append(order, rendered)
		}
		buckets[rendered] = append(buckets[rendered], valueCol.Value(row))
	}

	grouping := &Grouping{Keys: order, Values: make([]any, 0, len(order))}
	for _, key := range order {
		value, err := aggregate(agg, buckets[key])
		if err != nil {
			return nil, err
		}
		grouping.Values = append(grouping.Values, value)
	}
	return grouping, nil
}

func aggregate(agg string, values []any) (any, error) {
	series := &Series{Values: values}
	switch strings.ToLower(agg) {
	case "sum":
		return fnSum([]any{series})
	case "avg", "mean":
		return fnAvg([]any{series})
	case "count":
		return fnCount([]any{series})
	case "min":
		return fnMinMax([]any{series}, false)
	case "max":
		return fnMinMax([]any{series}, true)
	default:
		return nil, fmt.Errorf("unknown aggregation %q", agg)
	}
}

func asGrouping(name string, value any) (*Grouping, error) {
	grouping, ok := value.(*Grouping)
	if !ok {
		return nil, fmt.Errorf("%s: argument must be a grouping", name)
	}
	return grouping, nil
}

func fnTop(args []any) (any, error) {
	if err := wantArgs("top", args, 2, 2); err != nil {
		return nil, err
	}
	grouping, err := asGrouping("top", args[0])
	if err != nil {
		return nil, err
	}
	n, err := argNumber("top", args, 1)
	if err != nil {
		return nil, err
	}
	limit := int(n)
	if limit < 0 {
		limit = 0
	}

	indexes := make([]int, len(grouping.Keys))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		left, lok := numericValue(grouping.Values[indexes[a]])
		right, rok := numericValue(grouping.Values[indexes[b]])
		if lok && rok {
			return left > right
		}
		return lok
	})
	if limit > len(indexes) {
		limit = len(indexes)
	}
	out := &Grouping{Keys: make([]string, 0, limit), Values: make([]any, 0, limit)}
	for _, idx := range indexes[:limit] {
		out.Keys = append(out.Keys, grouping.Keys[idx])
		out.Values = append(out.Values, grouping.Values[idx])
	}
	return out, nil
}

func fnArg(args []any, wantMax bool) (any, error) {
	name := "argmin"
	if wantMax {
		name = "argmax"
	}
	if err := wantArgs(name, args, 1, 1); err != nil {
		return nil, err
	}
	grouping, err := asGrouping(name, args[0])
	if err != nil {
		return nil, err
	}
	bestIdx := -1
	var best float64
	for i, value := range grouping.Values {
		n, ok := numericValue(value)
		if !ok {
			continue
		}
		if bestIdx == -1 || (wantMax && n > best) || (!wantMax && n < best) {
			bestIdx, best = i, n
		}
	}
	if bestIdx == -1 {
		return nil, nil
	}
	return grouping.Keys[bestIdx], nil
}

func fnKeys(args []any) (any, error) {
	if err := wantArgs("keys", args, 1, 1); err != nil {
		return nil, err
	}
	grouping, err := asGrouping("keys", args[0])
	if err != nil {
		return nil, err
	}
	values := make([]any, len(grouping.Keys))
	for i, key := range grouping.Keys {
		values[i] = key
	}
	return &Series{Values: values}, nil
}

func fnValues(args []any) (any, error) {
	if err := wantArgs("values", args, 1, 1); err != nil {
		return nil, err
	}
	grouping, err := asGrouping("values", args[0])
	if err != nil {
		return nil, err
	}
	return &Series{Values: append([]any(nil), grouping.Values...)}, nil
}

func fnFirstLast(args []any, wantFirst bool) (any, error) {
	name := "last"
	if wantFirst {
		name = "first"
	}
	if err := wantArgs(name, args, 1, 1); err != nil {
		return nil, err
	}
	series, err := asSeries(name, args[0])
	if err != nil {
		return nil, err
	}
	if wantFirst {
		for _, value := range series.Values {
			if value != nil {
				return value, nil
			}
		}
		return nil, nil
	}
	for i := len(series.Values) - 1; i >= 0; i-- {
		if series.Values[i] != nil {
			return series.Values[i], nil
		}
	}
	return nil, nil
}

func fnAbs(args []any) (any, error) {
	if err := wantArgs("abs", args, 1, 1); err != nil {
		return nil, err
	}
	n, err := argNumber("abs", args, 0)
	if err != nil {
		return nil, err
	}
	return math.Abs(n), nil
}

func fnRound(args []any) (any, error) {
	if err := wantArgs("round", args, 1, 2); err != nil {
		return nil, err
	}
	n, err := argNumber("round", args, 0)
	if err != nil {
		return nil, err
	}
	digits := 0.0
	if len(args) == 2 {
		digits, err = argNumber("round", args, 1)
		if err != nil {
			return nil, err
		}
	}
	scale := math.Pow(10, digits)
	return math.Round(n*scale) / scale, nil
}

func fnStr(args []any) (any, error) {
	if err := wantArgs("str", args, 1, 1); err != nil {
		return nil, err
	}
	return renderScalar(args[0]), nil
}

func fnNum(args []any) (any, error) {
	if err := wantArgs("num", args, 1, 1); err != nil {
		return nil, err
	}
	n, ok := numericValue(args[0])
	if !ok {
		return nil, fmt.Errorf("num: cannot convert %v to a number", args[0])
	}
	return n, nil
}
