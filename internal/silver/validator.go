package silver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// MissingKeyPolicy decides what happens to rows without a state or
// brewery_type.
type MissingKeyPolicy string

const (
	PolicyDrop    MissingKeyPolicy = "drop"
	PolicyReject  MissingKeyPolicy = "reject"
	PolicyDefault MissingKeyPolicy = "default"
)

// DefaultKeyValue replaces missing keys under PolicyDefault.
const DefaultKeyValue = "unknown"

// ParsePolicy maps a config value to a policy. Empty means drop.
func ParsePolicy(s string) (MissingKeyPolicy, error) {
	switch p := MissingKeyPolicy(strings.ToLower(s)); p {
	case "":
		return PolicyDrop, nil
	case PolicyDrop, PolicyReject, PolicyDefault:
		return p, nil
	default:
		return "", fmt.Errorf("unknown missing key policy %q", s)
	}
}

// ErrMissingKey is wrapped by reject-policy failures.
var ErrMissingKey = errors.New("row is missing a required key")

// requiredKeys must be present on every validated row.
var requiredKeys = []string{medallion.StateColumn, medallion.BreweryTypeColumn}

// ValidationResult contains the outcome of validating the raw snapshot.
type ValidationResult struct {
	Passed    bool
	Errors    []string
	Warnings  []string
	InputRows int64
	RowCount  int64
	Dropped   int64
	Defaulted int64
}

// validateHeader checks the raw header can become a table schema.
func validateHeader(header []string) error {
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if name == "" {
			return fmt.Errorf("column %d has an empty name", i+1)
		}
		if seen[name] {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = true
	}
	return nil
}

// withRequiredColumns appends required key columns absent from the header,
// so the policy applies uniformly to rows that lack them.
func withRequiredColumns(header []string) ([]string, []string) {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	out := append([]string(nil), header...)
	var added []string
	for _, k := range requiredKeys {
		if !present[k] {
			out = append(out, k)
			added = append(added, k)
		}
	}
	return out, added
}

// validator applies the missing key policy row by row.
type validator struct {
	schema   tables.Schema
	policy   MissingKeyPolicy
	fill     string
	keyIndex []int
	result   ValidationResult
}

func newValidator(schema tables.Schema, policy MissingKeyPolicy, fill string) *validator {
	if fill == "" {
		fill = DefaultKeyValue
	}
	v := &validator{schema: schema, policy: policy, fill: fill}
	for _, k := range requiredKeys {
		v.keyIndex = append(v.keyIndex, schema.Index(k))
	}
	v.result.Passed = true
	return v
}

// check returns the row to keep, or nil if it is dropped. Under the
// reject policy a missing key is an error.
func (v *validator) check(n int, row tables.Row) (tables.Row, error) {
	v.result.InputRows++

	var missing []string
	for i, idx := range v.keyIndex {
		if row[idx] == nil || row[idx] == "" {
			missing = append(missing, requiredKeys[i])
		}
	}
	if len(missing) == 0 {
		v.result.RowCount++
		return row, nil
	}

	switch v.policy {
	case PolicyReject:
		v.result.Passed = false
		v.result.Errors = append(v.result.Errors,
			fmt.Sprintf("row %d: missing %s", n, strings.Join(missing, ", ")))
		return nil, fmt.Errorf("row %d: missing %s: %w", n, strings.Join(missing, ", "), ErrMissingKey)
	case PolicyDefault:
		for _, idx := range v.keyIndex {
			if row[idx] == nil || row[idx] == "" {
				row[idx] = v.fill
			}
		}
		v.result.Defaulted++
		v.result.RowCount++
		return row, nil
	default:
		v.result.Dropped++
		return nil, nil
	}
}

func (v *validator) finish() ValidationResult {
	r := v.result
	if r.Dropped > 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("dropped %d of %d rows missing state or brewery_type", r.Dropped, r.InputRows))
	}
	if r.Defaulted > 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("filled missing keys with %q on %d rows", v.fill, r.Defaulted))
	}
	if r.InputRows > 0 && r.RowCount == 0 {
		r.Warnings = append(r.Warnings, "no rows survived validation")
	}
	return r
}
