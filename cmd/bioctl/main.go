// Package main is the entry point for the bioctl CLI.
// The CLI is the operator terminal tool for interacting with the hub API.
package main

import (
	"os"

	"github.com/SomBagchi/bioreactor-website/cmd/bioctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
