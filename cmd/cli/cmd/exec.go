package cmd

import (
	"github.com/spf13/cobra"

	"procplane/pkg/api"
)

var execCmd = &cobra.Command{
	Use:   "exec -- [command] [args...]",
	Short: "Run a command to completion and print its output",
	Long: `Run a one-shot command through the supervisor's runtime and print its
standard output. A non-zero exit prints the error output and the code.

Example:
  procctl exec -- uname -a
  procctl exec --image python:3.12 -- python3 -c "print(42)"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		image, _ := cmd.Flags().GetString("image")
		dir, _ := cmd.Flags().GetString("dir")

		result, err := newClient().Run(api.RunRequest{
			Executable: args[0],
			Args:       args[1:],
			Dir:        dir,
			Image:      image,
		})
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Print(result.Stdout)
		if result.ExitCode != 0 {
			cmd.Print(result.Stderr)
			cmd.Printf("%s✗ exit code %d%s\n", colorRed, result.ExitCode, colorReset)
		}
	},
}

func init() {
	execCmd.Flags().StringP("image", "i", "", "Container image (docker and kubernetes runtimes)")
	execCmd.Flags().String("dir", "", "Working directory")
	rootCmd.AddCommand(execCmd)
}
