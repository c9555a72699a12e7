// Package main is the entry point for storectl.
// storectl is the operator terminal tool for the sellerpilot scheduler's admin API.
package main

import (
	"os"

	"sellerpilot/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
