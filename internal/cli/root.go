// Package cli implements the schedulerd command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags.
var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// NewRootCmd builds the schedulerd command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "schedulerd",
		Short:         "Publishes due schedules and learns the best posting timeslots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newTickCmd())
	root.AddCommand(newOptimiseCmd())
	root.AddCommand(newSuggestCmd())
	root.AddCommand(newMigrateCmd())

	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "schedulerd %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}
