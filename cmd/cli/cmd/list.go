package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List running processes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		procs, err := newClient().ListProcesses()
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(procs) == 0 {
			cmd.Println("No processes.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPID\tRUNTIME\tSTATE\tSTARTED")
		for _, p := range procs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s ago\n", p.Name, p.PID, p.Runtime, stateLabel(p.Exited, p.ExitCode), relativeTime(p.StartedAt))
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
