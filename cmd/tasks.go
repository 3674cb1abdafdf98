package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the trigger table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULE\tTASKS\tNEXT RUN")
			for _, t := range appInstance.Triggers() {
				next := "-"
				if !t.NextRun.IsZero() {
					next = t.NextRun.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Expression, strings.Join(t.Tasks, ","), next)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("write tasks: %w", err)
			}
			return nil
		},
	}
}
