package gold

import (
	"fmt"
	"sort"

	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Schema is the aggregate table schema.
var Schema = tables.NewSchema(
	tables.Column{Name: medallion.BreweryTypeColumn, Type: tables.TypeString},
	tables.Column{Name: medallion.StateColumn, Type: tables.TypeString},
	tables.Column{Name: medallion.CountColumn, Type: tables.TypeLong},
)

type groupKey struct {
	breweryType string
	state       string
}

// GroupCounter counts rows per (brewery_type, state), remembering the
// order in which each pair was first seen.
type GroupCounter struct {
	typeIdx  int
	stateIdx int
	order    []groupKey
	counts   map[groupKey]int64
	rows     int64
	skipped  int64
}

// NewGroupCounter resolves the key columns in the validated schema.
func NewGroupCounter(schema tables.Schema) (*GroupCounter, error) {
	g := &GroupCounter{
		typeIdx:  schema.Index(medallion.BreweryTypeColumn),
		stateIdx: schema.Index(medallion.StateColumn),
		counts:   make(map[groupKey]int64),
	}
	if g.typeIdx < 0 {
		return nil, fmt.Errorf("validated table has no %s column", medallion.BreweryTypeColumn)
	}
	if g.stateIdx < 0 {
		return nil, fmt.Errorf("validated table has no %s column", medallion.StateColumn)
	}
	return g, nil
}

// Add counts one validated row. Rows with a null key are skipped.
func (g *GroupCounter) Add(row tables.Row) {
	g.rows++
	bt, st := row[g.typeIdx], row[g.stateIdx]
	if bt == nil || st == nil {
		g.skipped++
		return
	}

	k := groupKey{breweryType: tables.FormatValue(bt), state: tables.FormatValue(st)}
	if _, ok := g.counts[k]; !ok {
		g.order = append(g.order, k)
	}
	g.counts[k]++
}

// Result returns one row per group, sorted by state. The sort is stable,
// so groups sharing a state keep their first-encounter order.
func (g *GroupCounter) Result() []tables.Row {
	keys := append([]groupKey(nil), g.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].state < keys[j].state
	})

	out := make([]tables.Row, len(keys))
	for i, k := range keys {
		out[i] = tables.Row{k.breweryType, k.state, g.counts[k]}
	}
	return out
}

// Reset clears the counter for reuse.
func (g *GroupCounter) Reset() {
	g.order = nil
	g.counts = make(map[groupKey]int64)
	g.rows = 0
	g.skipped = 0
}

// Rows is the number of rows added, Skipped those with a null key.
func (g *GroupCounter) Rows() int64    { return g.rows }
func (g *GroupCounter) Skipped() int64 { return g.skipped }

// CheckInvariants verifies an aggregate against its input: counts sum to
// the counted rows, each group is positive and unique, the row count is
// bounded by |types| x |states|, and rows are ordered by state.
func CheckInvariants(agg []tables.Row, countedRows int64) error {
	var sum int64
	types := make(map[string]bool)
	states := make(map[string]bool)
	seen := make(map[groupKey]bool)

	for i, r := range agg {
		bt, _ := r[0].(string)
		st, _ := r[1].(string)
		n, ok := r[2].(int64)
		if !ok || n <= 0 {
			return fmt.Errorf("row %d: count %v is not positive", i, r[2])
		}
		k := groupKey{bt, st}
		if seen[k] {
			return fmt.Errorf("row %d: duplicate group (%s, %s)", i, bt, st)
		}
		seen[k] = true
		if i > 0 {
			if prev, _ := agg[i-1][1].(string); prev > st {
				return fmt.Errorf("row %d: state %q sorts before %q", i, st, prev)
			}
		}
		types[bt] = true
		states[st] = true
		sum += n
	}

	if sum != countedRows {
		return fmt.Errorf("counts sum to %d, want %d", sum, countedRows)
	}
	if len(agg) > len(types)*len(states) {
		return fmt.Errorf("%d groups exceed %d types x %d states", len(agg), len(types), len(states))
	}
	return nil
}
