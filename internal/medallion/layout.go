package medallion

import (
	"errors"
	"fmt"
	"strings"
)

// Well-known column names the Silver and Gold contracts depend on.
const (
	StateColumn       = "state"
	BreweryTypeColumn = "brewery_type"
	CountColumn       = "count"
)

// Layout locates the three layers of one pipeline context.
type Layout struct {
	BronzeRoot string `yaml:"bronze_root"`
	SilverRoot string `yaml:"silver_root"`
	GoldRoot   string `yaml:"gold_root"`
	Context    string `yaml:"context"`
}

// Validate checks that every root and the context are set.
func (l Layout) Validate() error {
	var missing []string
	if l.BronzeRoot == "" {
		missing = append(missing, "bronze_root")
	}
	if l.SilverRoot == "" {
		missing = append(missing, "silver_root")
	}
	if l.GoldRoot == "" {
		missing = append(missing, "gold_root")
	}
	if l.Context == "" {
		missing = append(missing, "context")
	}
	if len(missing) > 0 {
		return fmt.Errorf("layout: missing %s", strings.Join(missing, ", "))
	}
	if strings.ContainsAny(l.Context, `/\`) {
		return errors.New("layout: context must not contain path separators")
	}
	return nil
}

// BronzeKey is the raw snapshot key relative to the bronze root:
// {context}/bronze_{context}.csv.
func (l Layout) BronzeKey() string {
	return fmt.Sprintf("%s/bronze_%s.csv", l.Context, l.Context)
}

// SilverTable is the validated table directory relative to the silver root.
func (l Layout) SilverTable() string {
	return l.Context + "/"
}

// GoldTable is the aggregate table directory relative to the gold root.
func (l Layout) GoldTable() string {
	return l.Context + "/"
}

// SilverName is the logical name recorded in the validated table metadata.
func (l Layout) SilverName() string {
	return "silver_" + l.Context
}

// GoldName is the logical name recorded in the aggregate table metadata.
func (l Layout) GoldName() string {
	return "gold_" + l.Context
}
