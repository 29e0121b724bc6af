package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"procplane/pkg/api"
)

var readCmd = &cobra.Command{
	Use:   "read [name]",
	Short: "Read the next line of a process's output",
	Long: `Read one line of standard output, waiting up to --wait for it to arrive.

With --follow, keep printing lines until the process closes its output.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		wait, _ := cmd.Flags().GetDuration("wait")
		follow, _ := cmd.Flags().GetBool("follow")

		client := newClient()
		if !follow {
			line, err := client.ReadLine(name, wait)
			if err != nil {
				printError(cmd, err)
				return
			}
			switch {
			case line.EOF:
				cmd.Println("(end of output)")
			case line.Pending:
				cmd.Printf("(no output within %s)\n", wait)
			default:
				cmd.Println(line.Line)
			}
			return
		}

		// Trap Ctrl+C to exit gracefully
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		for ctx.Err() == nil {
			line, err := client.ReadLine(name, wait)
			if err != nil {
				printError(cmd, err)
				return
			}
			if line.EOF {
				return
			}
			if !line.Pending {
				cmd.Println(line.Line)
			}
		}
	},
}

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Print all output buffered so far",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out, err := newClient().ReadOutput(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printOutput(cmd, out)
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors [name]",
	Short: "Print all error output buffered so far",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out, err := newClient().ReadErrors(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		printOutput(cmd, out)
	},
}

func printOutput(cmd *cobra.Command, out *api.OutputResponse) {
	for _, line := range out.Lines {
		cmd.Println(line)
	}
	if out.EOF {
		cmd.Printf("%s(end of output)%s\n", colorDim, colorReset)
	}
}

func init() {
	readCmd.Flags().BoolP("follow", "f", false, "Follow output until the process closes it")
	readCmd.Flags().Duration("wait", 5*time.Second, "How long to wait for a line (max 60s)")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(errorsCmd)
}
