package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs [name]",
	Short: "Show the run history of a process name",
	Long:  `List past and current instances started under a name. Requires the supervisor to have a database configured.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := newClient().ListRuns(args[0], limit)
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(runs) == 0 {
			cmd.Println("No runs recorded.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPID\tSTARTED\tDURATION\tEXIT\tREASON")
		for _, run := range runs {
			duration, exit, reason := "-", "-", "-"
			if run.StoppedAt != nil {
				duration = formatDuration(run.StoppedAt.Sub(run.StartedAt))
			}
			if run.ExitCode != nil {
				exit = fmt.Sprint(*run.ExitCode)
			}
			if run.StopReason != nil {
				reason = *run.StopReason
			}
			fmt.Fprintf(w, "%s\t%d\t%s ago\t%s\t%s\t%s\n", run.ID, run.PID, relativeTime(run.StartedAt), duration, exit, reason)
		}
		w.Flush()
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}
