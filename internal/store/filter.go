package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/perigee-sky/perigee/internal/timeutil"
)

// Filter condition keys are either a bare column name (equality) or
// "column__op" with one of the operators below. Keys naming unknown
// columns are silently ignored, so callers can pass through user-supplied
// condition maps without pre-validation. like and ilike wrap the value as
// %value% unconditionally; exact matching goes through eq.
const (
	opEq        = "eq"
	opNe        = "ne"
	opGt        = "gt"
	opGe        = "ge"
	opLt        = "lt"
	opLe        = "le"
	opIn        = "in"
	opNotIn     = "not_in"
	opLike      = "like"
	opILike     = "ilike"
	opIsNull    = "is_null"
	opIsNotNull = "is_not_null"
)

var comparisonSQL = map[string]string{
	opEq: "=", opNe: "<>", opGt: ">", opGe: ">=", opLt: "<", opLe: "<=",
}

// whereClause is a rendered condition set: SQL with ?-placeholders plus
// its arguments, ready for session.rebind.
type whereClause struct {
	sql  string
	args []any
}

func (w whereClause) empty() bool { return w.sql == "" }

// buildWhere renders conditions against the columns the entity exposes.
func buildWhere(conditions map[string]any, columns map[string]bool, dialect Dialect) whereClause {
	if len(conditions) == 0 {
		return whereClause{}
	}

	// Deterministic clause order keeps generated SQL stable for tests
	// and query-plan caches.
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	var args []any
	for _, key := range keys {
		column, op := splitConditionKey(key)
		if !columns[column] {
			continue
		}
		part, partArgs, ok := renderCondition(column, op, conditions[key], dialect)
		if !ok {
			continue
		}
		parts = append(parts, part)
		args = append(args, partArgs...)
	}
	if len(parts) == 0 {
		return whereClause{}
	}
	return whereClause{sql: strings.Join(parts, " AND "), args: args}
}

func splitConditionKey(key string) (column, op string) {
	if i := strings.LastIndex(key, "__"); i > 0 {
		if _, known := conditionOps[key[i+2:]]; known {
			return key[:i], key[i+2:]
		}
	}
	return key, opEq
}

var conditionOps = map[string]bool{
	opEq: true, opNe: true, opGt: true, opGe: true, opLt: true, opLe: true,
	opIn: true, opNotIn: true, opLike: true, opILike: true,
	opIsNull: true, opIsNotNull: true,
}

func renderCondition(column, op string, value any, dialect Dialect) (string, []any, bool) {
	switch op {
	case opEq, opNe, opGt, opGe, opLt, opLe:
		return fmt.Sprintf("%s %s ?", column, comparisonSQL[op]), []any{normalizeValue(value)}, true
	case opIn, opNotIn:
		values := expandSlice(value)
		if len(values) == 0 {
			// An empty IN list matches nothing; an empty NOT IN
			// list excludes nothing.
			if op == opIn {
				return "1 = 0", nil, true
			}
			return "", nil, false
		}
		keyword := "IN"
		if op == opNotIn {
			keyword = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", column, keyword, placeholders(len(values))), values, true
	case opLike:
		return column + " LIKE ?", []any{"%" + fmt.Sprint(value) + "%"}, true
	case opILike:
		pattern := "%" + fmt.Sprint(value) + "%"
		if dialect == DialectPostgres {
			return column + " ILIKE ?", []any{pattern}, true
		}
		return "LOWER(" + column + ") LIKE LOWER(?)", []any{pattern}, true
	case opIsNull:
		if truthy(value) {
			return column + " IS NULL", nil, true
		}
		return column + " IS NOT NULL", nil, true
	case opIsNotNull:
		if truthy(value) {
			return column + " IS NOT NULL", nil, true
		}
		return column + " IS NULL", nil, true
	default:
		return "", nil, false
	}
}

// normalizeValue applies the boundary rule to values crossing into SQL:
// timestamps bind as UTC, everything else passes through.
func normalizeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return timeutil.ToUTC(t)
	}
	if t, ok := v.(*time.Time); ok && t != nil {
		return timeutil.ToUTC(*t)
	}
	return v
}

// expandSlice flattens a slice value of any element type into []any,
// normalizing each element.
func expandSlice(v any) []any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		if v == nil {
			return nil
		}
		return []any{normalizeValue(v)}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = normalizeValue(rv.Index(i).Interface())
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return true
	default:
		return true
	}
}
