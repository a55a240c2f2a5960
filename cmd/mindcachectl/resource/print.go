// Package resource holds mindcachectl's per-resource subcommands
// (instances, delegates, permissions) and their shared table/JSON
// output helper.
package resource

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintOutput renders data as indented JSON when format is "json", and
// as a table (headers/rows) otherwise, mirroring the teacher CLI's
// printOutput switch without a retrieved body to copy from.
func PrintOutput(w io.Writer, format string, data any, headers []string, rows [][]string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, color.YellowString("no results"))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)

	headerRow := make(table.Row, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		t.AppendRow(r)
	}
	t.Render()
	return nil
}

// Fatalf prints a red error line to stderr. RunE returning the error is
// preferred; commands that can't (because they already printed partial
// output) use this instead.
func Fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
}
