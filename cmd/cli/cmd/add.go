package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"procplane/pkg/api"
)

var addCmd = &cobra.Command{
	Use:   "add [name] [-- args...]",
	Short: "Start a named process",
	Long: `Start a long-running process under a unique name.

Without --exe the supervisor falls back to its configured interpreter and
script.

Example:
  procctl add pinger --exe ping -- -c 5 127.0.0.1
  procctl add worker --exe python3 --script /opt/worker.py --env MODE=batch
  procctl add shell --image alpine:latest --exe sh`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		exe, _ := flags.GetString("exe")
		script, _ := flags.GetString("script")
		image, _ := flags.GetString("image")
		dir, _ := flags.GetString("dir")
		envPairs, _ := flags.GetStringSlice("env")

		env, err := parseEnv(envPairs)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		req := api.AddProcessRequest{
			Name:       args[0],
			Executable: exe,
			Script:     script,
			Args:       args[1:],
			Env:        env,
			Dir:        dir,
			Image:      image,
		}

		result, err := newClient().AddProcess(req)
		if err != nil {
			printError(cmd, err)
			return
		}

		cmd.Printf("✓ Process started!\nName: %s\nPID: %d\nInstance: %s\n", result.Name, result.PID, result.InstanceID)
	},
}

// parseEnv turns KEY=VALUE pairs into a map.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[k] = v
	}
	return env, nil
}

func init() {
	flags := addCmd.Flags()
	flags.StringP("exe", "e", "", "Executable to run")
	flags.StringP("script", "s", "", "Script passed as the first argument")
	flags.StringP("image", "i", "", "Container image (docker and kubernetes runtimes)")
	flags.String("dir", "", "Working directory")
	flags.StringSlice("env", nil, "Environment variables as KEY=VALUE")

	rootCmd.AddCommand(addCmd)
}
