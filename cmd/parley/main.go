// Package main is the CLI entry point for the Parley chat server.
//
// Start the server:
//
//	parley serve --config parley.yaml
//
// Mint a development token:
//
//	parley token --config parley.yaml --user dev --email dev@example.com
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Parley multi-tenant AI chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "parley.yaml", "path to configuration file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parley %s (%s)\n", version, commit)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
