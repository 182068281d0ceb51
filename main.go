// Package main is the entry point for the daq-core CLI and daemon binary.
package main

import (
	"fmt"
	"os"

	"icc.tech/daq-core/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
