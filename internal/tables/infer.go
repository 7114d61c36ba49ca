package tables

import (
	"strconv"
	"strings"
)

// InferSchema derives column types from literal CSV cells. A column is
// long if every non-empty cell is an integer, double if every non-empty
// cell is numeric, boolean if every non-empty cell is true/false, and
// string otherwise. Columns with no non-empty cell are strings, as are
// the columns named in forceString.
func InferSchema(header []string, rows [][]string, forceString ...string) Schema {
	forced := make(map[string]bool, len(forceString))
	for _, name := range forceString {
		forced[name] = true
	}

	cols := make([]Column, len(header))
	for i, name := range header {
		cols[i] = Column{Name: name, Type: TypeString}
		if forced[name] {
			continue
		}
		cols[i].Type = inferColumn(rows, i)
	}
	return Schema{Columns: cols}
}

func inferColumn(rows [][]string, i int) Type {
	canLong, canDouble, canBool := true, true, true
	seen := false

	for _, row := range rows {
		if i >= len(row) || row[i] == "" {
			continue
		}
		cell := row[i]
		seen = true

		if canLong && !isLong(cell) {
			canLong = false
		}
		if canDouble && !isDouble(cell) {
			canDouble = false
		}
		if canBool && !isBool(cell) {
			canBool = false
		}
		if !canLong && !canDouble && !canBool {
			return TypeString
		}
	}

	switch {
	case !seen:
		return TypeString
	case canLong:
		return TypeLong
	case canDouble:
		return TypeDouble
	case canBool:
		return TypeBoolean
	default:
		return TypeString
	}
}

func isLong(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// isDouble accepts decimal and exponent notation only; NaN, Inf and hex
// floats stay strings.
func isDouble(s string) bool {
	if strings.ContainsAny(s, "xXnNiI_") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isBool(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}
