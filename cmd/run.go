package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/stockcrawler/internal/backfill"
)

type summaryView struct {
	Task              string `json:"task"`
	Window            string `json:"window"`
	Result            string `json:"result"`
	SkipReason        string `json:"skip_reason,omitempty"`
	Total             int    `json:"total"`
	Succeeded         int    `json:"succeeded"`
	Ineligible        int    `json:"ineligible"`
	Failed            int    `json:"failed"`
	Mismatched        int    `json:"mismatched"`
	SecondaryFailures int    `json:"secondary_failures"`
	RollupRan         bool   `json:"rollup_ran"`
	RollupError       string `json:"rollup_error,omitempty"`
	SentinelSet       bool   `json:"sentinel_set"`
}

func newSummaryView(s backfill.Summary) summaryView {
	v := summaryView{
		Task:              s.Task,
		Window:            s.Window.String(),
		Result:            s.Result(),
		SkipReason:        s.SkipReason,
		Total:             s.Total,
		Succeeded:         s.Succeeded,
		Ineligible:        s.Ineligible,
		Failed:            s.Failed,
		Mismatched:        s.Mismatched,
		SecondaryFailures: s.SecondaryFailures,
		RollupRan:         s.RollupRan,
		SentinelSet:       s.SentinelSet,
	}
	if s.RollupErr != nil {
		v.RollupError = s.RollupErr.Error()
	}
	return v
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>",
		Short: "Run one task now and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.RunTask(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(newSummaryView(summary)); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
			return nil
		},
	}
}
