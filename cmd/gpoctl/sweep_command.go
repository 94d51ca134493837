package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"genflow/internal/sweep"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep over due workflow instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.session(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := sess.services.Scheduler.RunSweep(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, summary)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func renderSummary(s sweep.Summary) string {
	rows := [][]string{
		{"Processed", strconv.Itoa(s.Processed)},
		{"Completed", strconv.Itoa(s.Completed)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Timed out", strconv.Itoa(s.TimedOut)},
		{"Retried", strconv.Itoa(s.Retried)},
		{"Idle", strconv.Itoa(s.Idle)},
	}
	return renderTable([]string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
}
