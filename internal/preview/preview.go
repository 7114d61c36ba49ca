// Package preview renders table rows as Markdown for logs and the CLI.
package preview

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// Markdown writes up to limit rows as a Markdown table. A limit <= 0
// writes every row. A trailing line reports truncated rows.
func Markdown(w io.Writer, schema tables.Schema, rows []tables.Row, limit int) error {
	shown := rows
	if limit > 0 && len(rows) > limit {
		shown = rows[:limit]
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(schema.Names())
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	for _, r := range shown {
		line := make([]string, len(schema.Columns))
		for i := range line {
			if i < len(r) {
				line[i] = tables.FormatValue(r[i])
			}
		}
		table.Append(line)
	}
	table.Render()

	if n := len(rows) - len(shown); n > 0 {
		if _, err := fmt.Fprintf(w, "\n... %d more rows\n", n); err != nil {
			return err
		}
	}
	return nil
}

// String is Markdown into a string.
func String(schema tables.Schema, rows []tables.Row, limit int) string {
	var b strings.Builder
	Markdown(&b, schema, rows, limit)
	return b.String()
}
