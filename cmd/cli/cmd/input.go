package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [name] [text...]",
	Short: "Write a line to a process's input",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		text := strings.Join(args[1:], " ")
		if err := newClient().Send(args[0], text); err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Sent %d bytes to %s\n", len(text)+1, args[0])
	},
}

var closeInputCmd = &cobra.Command{
	Use:   "close-input [name]",
	Short: "Close a process's input (end of file)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := newClient().CloseInput(args[0]); err != nil {
			printError(cmd, err)
			return
		}
		cmd.Printf("✓ Input closed for %s\n", args[0])
	},
}

var exitedCmd = &cobra.Command{
	Use:   "exited [name]",
	Short: "Report whether a process has exited",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().IsExited(args[0])
		if err != nil {
			printError(cmd, err)
			return
		}
		switch {
		case !resp.Registered:
			cmd.Println("exited (not registered)")
		case resp.Exited:
			cmd.Println("exited")
		default:
			cmd.Println("running")
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(closeInputCmd)
	rootCmd.AddCommand(exitedCmd)
}
