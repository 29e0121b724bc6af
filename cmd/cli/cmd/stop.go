package cmd

import (
	"sort"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Kill a process and remove it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := newClient().Stop(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Stopped %s (exit code %d", result.Name, result.ExitCode)
		if result.Description != "" {
			cmd.Printf(", %s", result.Description)
		}
		cmd.Println(")")
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Kill and remove every process",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		result, err := newClient().StopAll()
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Stopped %d process(es)\n", result.Stopped)
		names := make([]string, 0, len(result.Errors))
		for name := range result.Errors {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cmd.Printf("%s✗ %s: %s%s\n", colorRed, name, result.Errors[name], colorReset)
		}
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(stopAllCmd)
}
