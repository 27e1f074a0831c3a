package feeds

import (
	"strconv"
	"strings"
)

// tableResponse is the column-indexed shape both the list and the
// close-approach endpoints return: a field-name header plus data rows.
type tableResponse struct {
	Fields []string `json:"fields"`
	Count  any      `json:"count"`
	Data   [][]any  `json:"data"`
}

// columnIndex maps field names to their column positions.
func columnIndex(fields []string) map[string]int {
	cols := make(map[string]int, len(fields))
	for i, f := range fields {
		cols[strings.TrimSpace(f)] = i
	}
	return cols
}

// asString renders a decoded JSON cell as a trimmed string. Numeric cells
// format without a trailing exponent so designations like 433 survive.
func asString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

// cell returns row[col] when the row is wide enough.
func cell(row []any, col int) any {
	if col < 0 || col >= len(row) {
		return nil
	}
	return row[col]
}
