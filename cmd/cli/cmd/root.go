package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "procctl",
	Short: "procctl is a command line tool for the procplane process supervisor",
	Long: `procctl is the command-line interface for the procplane supervisor.

The supervisor keeps a table of named, long-running processes. Each process
can be written to line by line and its output read back one line at a time,
in bulk, or followed until it exits.

Common workflows:

  Start a named process:
    procctl add pinger --exe ping -- -c 5 127.0.0.1

  Talk to it:
    procctl send calc "2+2"
    procctl read calc --wait 5s

  Follow its output until it exits:
    procctl read pinger --follow

  Stop it, or everything:
    procctl stop pinger
    procctl stop-all

  Run a command to completion:
    procctl exec -- uname -a

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    PROCPLANE_URL      API endpoint (default: http://localhost:6161)
    PROCPLANE_TOKEN    API token, when the supervisor requires one`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".procctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".procctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "PROCPLANE_VARNAME"
	viper.SetEnvPrefix("PROCPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the resolved url and token.
func newClient() *ProcessClient {
	return NewProcessClient(viper.GetString("url"), viper.GetString("token"))
}

// printError reports err on the command's output.
func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.procctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "procplane supervisor URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
