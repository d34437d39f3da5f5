// Package main provides the geomancer command-line tool.
package main

import (
	"os"

	"github.com/leapstack-labs/geomancer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
