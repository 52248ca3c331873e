package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// options holds the global flags shared by every subcommand.
type options struct {
	server string
	token  string
	json   bool
}

func (o *options) client() *client {
	return newClient(o.server, o.token)
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "wardenctl",
		Short:         "Client for the warden object and analysis API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("WARDEN_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Base URL of the warden API (env WARDEN_SERVER)")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("WARDEN_TOKEN"), "Analyst bearer token (env WARDEN_TOKEN)")
	rootCmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print raw JSON even when stdout is a terminal")

	rootCmd.AddCommand(newObjectCommand(opts))
	rootCmd.AddCommand(newTaskCommand(opts))
	rootCmd.AddCommand(newSampleCommand(opts))

	return rootCmd
}
