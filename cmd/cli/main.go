// Package main is the entry point for procctl, the command-line client for
// the procplane supervisor API.
package main

import (
	"os"

	"procplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
