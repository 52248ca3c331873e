package main

import (
	"github.com/spf13/cobra"
)

func newTaskCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Record analysis task progress on an object",
	}
	cmd.AddCommand(newTaskStartCommand(opts))
	cmd.AddCommand(newTaskResultCommand(opts))
	cmd.AddCommand(newTaskLogCommand(opts))
	cmd.AddCommand(newTaskFinishCommand(opts))
	return cmd
}

// mutate posts a task mutation and prints the server's outcome.
func mutate(cmd *cobra.Command, opts *options, path string, body any) error {
	var out outcome
	if err := opts.client().do(cmd.Context(), "POST", path, body, &out); err != nil {
		return err
	}
	return printOutcome(cmd, opts, &out)
}

func newTaskStartCommand(opts *options) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "start <type> <id> <service>",
		Short: "Start a pending analysis task and print its analysis id",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, objectPath(args[0], args[1])+"/analysis", map[string]string{
				"service": args[2],
				"version": version,
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "Version of the analysis service")
	return cmd
}

func newTaskResultCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "result <type> <id> <analysis-id> <result> <result-type> <subtype>",
		Short: "Append a result to an analysis task",
		Args:  cobra.ExactArgs(6),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, taskPath(args[0], args[1], args[2])+"/results", map[string]string{
				"result":  args[3],
				"type":    args[4],
				"subtype": args[5],
			})
		},
	}
}

func newTaskLogCommand(opts *options) *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "log <type> <id> <analysis-id> <message>",
		Short: "Append a log entry to an analysis task",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, taskPath(args[0], args[1], args[2])+"/log", map[string]string{
				"message": args[3],
				"level":   level,
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "info", "Log level")
	return cmd
}

func newTaskFinishCommand(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "finish <type> <id> <analysis-id>",
		Short: "Mark an analysis task completed or failed",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, taskPath(args[0], args[1], args[2])+"/finish", map[string]string{
				"status": status,
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "completed", "Final status (completed or error)")
	return cmd
}
