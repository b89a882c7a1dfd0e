package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-post-scheduler/internal/repo"
	"github.com/tbourn/go-post-scheduler/internal/sysutil"
)

// withApp bootstraps dependencies around fn and always closes them.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := repo.AutoMigrate(a.db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one publish tick and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				eng, err := a.engine()
				if err != nil {
					return err
				}
				n, err := eng.RunTick(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d schedule(s)\n", n)
				return nil
			})
		},
	}
}

func newOptimiseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "optimise",
		Aliases: []string{"optimize"},
		Short:   "Apply pending metrics to the bandit once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.worker().TickOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d reward(s)\n", n)
				return nil
			})
		},
	}
}

func newSuggestCmd() *cobra.Command {
	var (
		org, provider string
		n             int
		asJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Print recommended timeslots for an organization and provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			org = strings.TrimSpace(sysutil.FirstNonEmpty(org, os.Getenv("SCHEDULER_ORG")))
			if org == "" {
				return errors.New("--org (or SCHEDULER_ORG) is required")
			}
			if provider == "" || strings.Contains(provider, ":") {
				return errors.New("--provider is required and must not contain ':'")
			}
			if n < 1 {
				return errors.New("--n must be >= 1")
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out, err := a.optimiser().SuggestTimeslots(ctx, org, provider, n)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(out)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "KEY\tNEXT")
				for _, s := range out {
					fmt.Fprintf(tw, "%s\t%s\n", s.Key, s.When)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&provider, "provider", "", "platform name, e.g. instagram")
	cmd.Flags().IntVar(&n, "n", 5, "number of suggestions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
