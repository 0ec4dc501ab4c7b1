package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"bsewatch/internal/app"
	"bsewatch/internal/batch"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		hoursBack int
		force     bool
	)
	cmd := &cobra.Command{
		Use:       "run <job>",
		Short:     "Run one batch job now and print its result",
		Long:      "Jobs: " + strings.Join(batch.Jobs, ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: batch.Jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				res, err := a.Orchestrator().Run(cmd.Context(), batch.Request{Job: args[0], HoursBack: hoursBack, Force: force})
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().IntVar(&hoursBack, "hours-back", 0, "disclosure window in hours (0 uses batch.default_hours_back)")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the market session gate")
	return cmd
}

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent batch runs grouped by run id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				st := a.Store()
				if st == nil {
					return fmt.Errorf("runs: storage disabled")
				}
				entries, err := st.RecentRuns(cmd.Context(), batch.RunsScanLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, batch.GroupRuns(entries, limit, batch.MaxItemsPerRun))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", batch.MaxRunGroups, "max run groups to show")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
