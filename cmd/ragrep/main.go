// Package main provides the entry point for the ragrep CLI.
package main

import (
	"os"

	"github.com/laulauland/ragrep/cmd/ragrep/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
