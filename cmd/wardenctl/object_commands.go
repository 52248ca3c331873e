package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/warden/internal/object"
)

func newObjectCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Submit and inspect objects",
	}
	cmd.AddCommand(newObjectGetCommand(opts))
	cmd.AddCommand(newObjectListCommand(opts))
	cmd.AddCommand(newObjectSubmitCommand(opts))
	cmd.AddCommand(newObjectSetCommand(opts))
	cmd.AddCommand(newObjectRemoveCommand(opts))
	return cmd
}

// completeType offers object type names for the first argument.
func completeType(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	types := object.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

func newObjectGetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:               "get <type> <id>",
		Short:             "Show an object and its analysis tasks",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeType,
		RunE: func(cmd *cobra.Command, args []string) error {
			var obj object.Object
			if err := opts.client().do(cmd.Context(), "GET", objectPath(args[0], args[1]), nil, &obj); err != nil {
				return err
			}
			if !wantTable(cmd, opts) {
				return writeJSON(cmd, &obj)
			}
			printObject(cmd, &obj)
			return nil
		},
	}
}

type submitBody struct {
	Sources     []string `json:"sources"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Value       string   `json:"value,omitempty"`
	Filename    string   `json:"filename,omitempty"`
	Data        []byte   `json:"data,omitempty"`
	RelatedType string   `json:"related_type,omitempty"`
	RelatedID   string   `json:"related_id,omitempty"`
}

type submitAnswer struct {
	ID      string `json:"id"`
	MD5     string `json:"md5"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}

func newObjectSubmitCommand(opts *options) *cobra.Command {
	var (
		body   submitBody
		file   string
		relate string
	)
	cmd := &cobra.Command{
		Use:               "submit <type>",
		Short:             "Submit a new object, optionally with file content",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeType,
		RunE: func(cmd *cobra.Command, args []string) error {
			if relate != "" {
				typ, id, ok := strings.Cut(relate, "/")
				if !ok || typ == "" || id == "" {
					return fmt.Errorf("--relate wants <type>/<id>, got %q", relate)
				}
				body.RelatedType, body.RelatedID = typ, id
			}
			switch file {
			case "":
			case "-":
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				body.Data = data
			default:
				data, err := os.ReadFile(file) //nolint:gosec // path is the operator's own argument
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				body.Data = data
				if body.Filename == "" {
					body.Filename = filepath.Base(file)
				}
			}
			var ans submitAnswer
			if err := opts.client().do(cmd.Context(), "POST", "/objects/"+args[0], &body, &ans); err != nil {
				return err
			}
			if !wantTable(cmd, opts) {
				return writeJSON(cmd, &ans)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ans.ID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&body.Sources, "source", nil, "Source label (repeatable)")
	cmd.Flags().StringVar(&body.Title, "title", "", "Object title")
	cmd.Flags().StringVar(&body.Description, "description", "", "Object description")
	cmd.Flags().StringVar(&body.Value, "value", "", "Object value (domain name, address, indicator)")
	cmd.Flags().StringVar(&body.Filename, "filename", "", "Filename recorded with the content")
	cmd.Flags().StringVarP(&file, "file", "f", "", "File whose content is uploaded (- reads stdin)")
	cmd.Flags().StringVar(&relate, "relate", "", "Relate the new object to <type>/<id>, e.g. Event/<id>")
	return cmd
}

type listAnswer struct {
	Objects []*object.Object `json:"objects"`
}

func newObjectListCommand(opts *options) *cobra.Command {
	var (
		search        string
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:               "list <type>",
		Aliases:           []string{"ls"},
		Short:             "List objects of a type, newest first",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeType,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if search != "" {
				q.Set("q", search)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/objects/" + url.PathEscape(args[0])
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var ans listAnswer
			if err := opts.client().do(cmd.Context(), "GET", path, nil, &ans); err != nil {
				return err
			}
			if !wantTable(cmd, opts) {
				return writeJSON(cmd, &ans)
			}
			rows := make([][]string, 0, len(ans.Objects))
			for _, o := range ans.Objects {
				rows = append(rows, []string{o.ID, formatTime(o.Created), label(o), strings.Join(o.Sources, ", "), strconv.Itoa(len(o.Analysis))})
			}
			printTable(cmd, args[0], []string{"ID", "Created", "Name", "Sources", "Tasks"}, rows)
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "q", "", "Case-insensitive text to match")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum objects to return (server default when 0)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Objects to skip")
	return cmd
}

// label picks the most descriptive name an object has.
func label(o *object.Object) string {
	for _, v := range []string{o.Title, o.Value, o.Filename, o.MD5} {
		if v != "" {
			return v
		}
	}
	return "-"
}

type fieldsBody struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	EventType   *string `json:"event_type,omitempty"`
}

func newObjectSetCommand(opts *options) *cobra.Command {
	var title, description, eventType string
	cmd := &cobra.Command{
		Use:               "set <type> <id>",
		Short:             "Change an object's title, description or event type",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeType,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body fieldsBody
			if cmd.Flags().Changed("title") {
				body.Title = &title
			}
			if cmd.Flags().Changed("description") {
				body.Description = &description
			}
			if cmd.Flags().Changed("event-type") {
				body.EventType = &eventType
			}
			var out outcome
			if err := opts.client().do(cmd.Context(), "PATCH", objectPath(args[0], args[1]), &body, &out); err != nil {
				return err
			}
			return printOutcome(cmd, opts, &out)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	cmd.Flags().StringVar(&eventType, "event-type", "", "New event type (events only)")
	return cmd
}

func newObjectRemoveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:               "rm <type> <id>",
		Aliases:           []string{"remove"},
		Short:             "Remove an object (administrators only)",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeType,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out outcome
			if err := opts.client().do(cmd.Context(), "DELETE", objectPath(args[0], args[1]), nil, &out); err != nil {
				return err
			}
			return printOutcome(cmd, opts, &out)
		},
	}
}

func printObject(cmd *cobra.Command, obj *object.Object) {
	rows := [][]string{
		{"Type", string(obj.Type)},
		{"ID", obj.ID},
		{"Sources", strings.Join(obj.Sources, ", ")},
	}
	for _, kv := range [][2]string{
		{"MD5", obj.MD5},
		{"Title", obj.Title},
		{"Event type", obj.EventType},
		{"Description", obj.Description},
		{"Value", obj.Value},
		{"Filename", obj.Filename},
	} {
		if kv[1] != "" {
			rows = append(rows, []string{kv[0], kv[1]})
		}
	}
	if obj.Size > 0 {
		rows = append(rows, []string{"Size", strconv.FormatInt(obj.Size, 10)})
	}
	printTable(cmd, "", []string{"Field", "Value"}, rows)

	if len(obj.Relationships) > 0 {
		rels := make([][]string, 0, len(obj.Relationships))
		for _, r := range obj.Relationships {
			rels = append(rels, []string{string(r.Type), r.ID})
		}
		printTable(cmd, "Related", []string{"Type", "ID"}, rels)
	}

	if len(obj.Analysis) == 0 {
		return
	}
	tasks := make([][]string, 0, len(obj.Analysis))
	for _, t := range obj.Analysis {
		tasks = append(tasks, []string{
			t.AnalysisID,
			t.ServiceName,
			string(t.Status),
			t.Analyst,
			formatTime(t.StartDate),
			formatTime(t.FinishDate),
			strconv.Itoa(len(t.Results)),
			strconv.Itoa(len(t.Log)),
		})
	}
	printTable(cmd, "Analysis",
		[]string{"Analysis ID", "Service", "Status", "Analyst", "Started", "Finished", "Results", "Log"},
		tasks)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
