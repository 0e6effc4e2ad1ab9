// Package main provides the entry point for the spingest CLI.
package main

import (
	"fmt"
	"os"

	"github.com/yashugupta786/sp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
