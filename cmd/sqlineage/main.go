// Package main is the sqlineage command.
package main

import (
	"os"

	"github.com/leapstack-labs/sqlineage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
