package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// wantTable reports whether output should be rendered for a human.
func wantTable(cmd *cobra.Command, opts *options) bool {
	if opts.json {
		return false
	}
	return isTerminal(cmd.OutOrStdout())
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(title string, headers []string, rows [][]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if title != "" {
		tw.SetTitle(title)
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		configs[i] = table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft, WidthMax: 80}
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func printTable(cmd *cobra.Command, title string, headers []string, rows [][]string) {
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(title, headers, rows))
}

// printOutcome renders a task mutation answer.
func printOutcome(cmd *cobra.Command, opts *options, out *outcome) error {
	if !wantTable(cmd, opts) {
		return writeJSON(cmd, out)
	}
	if out.AnalysisID != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out.AnalysisID)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
