// Package main is the entry point for the mse5 CLI.
package main

import (
	"os"

	"github.com/go-mse/mse5/cmd/mse5/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
