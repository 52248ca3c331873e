package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type stringsAnswer struct {
	Strings []string `json:"strings"`
}

type keysAnswer struct {
	Keys []int `json:"keys"`
}

func newSampleCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Inspect sample content on the server",
	}
	cmd.AddCommand(newSampleLinesCommand(opts, "strings", "Print ASCII and UTF-16LE strings of a sample", "/strings"))
	cmd.AddCommand(newSampleLinesCommand(opts, "hex", "Print a hex dump of a sample", "/hex"))
	cmd.AddCommand(newSampleXORCommand(opts))
	cmd.AddCommand(newSampleXORSearchCommand(opts))
	return cmd
}

// printLines writes one string per line, the natural shape for strings and
// hex dumps in a terminal.
func printLines(cmd *cobra.Command, opts *options, ans *stringsAnswer) error {
	if !wantTable(cmd, opts) {
		return writeJSON(cmd, ans)
	}
	if len(ans.Strings) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ans.Strings, "\n"))
	}
	return nil
}

func newSampleLinesCommand(opts *options, use, short, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <md5>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ans stringsAnswer
			if err := opts.client().do(cmd.Context(), "GET", samplePath(args[0])+suffix, nil, &ans); err != nil {
				return err
			}
			return printLines(cmd, opts, &ans)
		},
	}
}

func newSampleXORCommand(opts *options) *cobra.Command {
	var key uint8
	cmd := &cobra.Command{
		Use:   "xor <md5>",
		Short: "Print the strings of a sample decoded with a single-byte XOR key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ans stringsAnswer
			path := samplePath(args[0]) + "/xor?key=" + strconv.Itoa(int(key))
			if err := opts.client().do(cmd.Context(), "GET", path, nil, &ans); err != nil {
				return err
			}
			return printLines(cmd, opts, &ans)
		},
	}
	cmd.Flags().Uint8Var(&key, "key", 0, "XOR key (0..255)")
	return cmd
}

func newSampleXORSearchCommand(opts *options) *cobra.Command {
	var skipNulls, isKey bool
	cmd := &cobra.Command{
		Use:   "xor-search <md5> <string>",
		Short: "Find the XOR keys under which a string appears in a sample",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ans keysAnswer
			body := map[string]any{"string": args[1], "skip_nulls": skipNulls, "is_key": isKey}
			if err := opts.client().do(cmd.Context(), "POST", samplePath(args[0])+"/xor-search", body, &ans); err != nil {
				return err
			}
			if !wantTable(cmd, opts) {
				return writeJSON(cmd, &ans)
			}
			rows := make([][]string, 0, len(ans.Keys))
			for _, k := range ans.Keys {
				rows = append(rows, []string{strconv.Itoa(k), fmt.Sprintf("0x%02x", k)})
			}
			printTable(cmd, "", []string{"Key", "Hex"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipNulls, "skip-nulls", false, "Leave 0x00 and key bytes untouched while decoding")
	cmd.Flags().BoolVar(&isKey, "is-key", false, "Treat the string as a key and echo it back")
	return cmd
}
