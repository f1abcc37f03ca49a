// Package main is the entry point for the composer service and its
// command-line tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/composer/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "composer: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "composer",
		Short: "Workflow instance configuration composer",
		Long: `composer serves the editing API used to assemble the configuration of a
workflow instance from an application catalogue: stages, substages,
per-step flags and parameters, and step dependencies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newPreviewCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and commit",
		Run: func(cmd *cobra.Command, _ []string) {
			observability.Version = version
			observability.Commit = commit
			fmt.Fprintf(cmd.OutOrStdout(), "composer %s (%s)\n", observability.Version, observability.Commit)
		},
	}
}
