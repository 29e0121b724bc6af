package cmd

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestRootCommand_DefaultURL(t *testing.T) {
	resetViper()

	cmd := &cobra.Command{}
	cmd.PersistentFlags().String("url", "http://localhost:6161", "procplane supervisor URL")
	viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))

	url := viper.GetString("url")
	if url != "http://localhost:6161" {
		t.Errorf("expected default url http://localhost:6161, got: %s", url)
	}
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()

	t.Setenv("PROCPLANE_TOKEN", "env-token-value")
	t.Setenv("PROCPLANE_URL", "http://custom-url:8080")

	token := viper.GetString("token")
	url := viper.GetString("url")

	if token != "env-token-value" {
		t.Errorf("expected token from env var, got: %s", token)
	}
	if url != "http://custom-url:8080" {
		t.Errorf("expected url from env var, got: %s", url)
	}
}

func TestRootCommand_ExecuteReturnsNoError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Errorf("root command should execute without error: %v", err)
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	want := map[string]bool{
		"add": false, "list": false, "status": false, "read": false, "output": false,
		"errors": false, "send": false, "close-input": false, "exited": false,
		"stop": false, "stop-all": false, "runs": false, "exec": false,
	}
	for _, cmd := range rootCmd.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("expected %q subcommand to be registered with root command", name)
		}
	}
}

func TestExecute_ReturnsError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"unknown-command-xyz"})

	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()

	tmpFile, err := os.CreateTemp("", "procctl-test-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("url: http://custom-from-config:9999\ntoken: config-token\n")
	tmpFile.Close()

	cfgFile = tmpFile.Name()
	initConfig()

	if url := viper.GetString("url"); url != "http://custom-from-config:9999" {
		t.Errorf("expected url from config file, got: %s", url)
	}
	if token := viper.GetString("token"); token != "config-token" {
		t.Errorf("expected token from config file, got: %s", token)
	}

	cfgFile = ""
}
