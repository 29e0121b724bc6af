package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("PROCPLANE")
	viper.AutomaticEnv()
}

// runCLI points the CLI at handler and executes args, returning the output.
func runCLI(t *testing.T, handler http.HandlerFunc, args ...string) string {
	t.Helper()
	resetViper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return stdout.String()
}
