// Package main is the entry point for the v6rx IPv6 receive engine.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/v6rx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
