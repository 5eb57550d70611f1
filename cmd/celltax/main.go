// Package main provides the celltax CLI: the prediction server and one-shot
// commands against the Cell Taxonomy reference.
package main

import (
	"fmt"
	"os"
)

var (
	// Version is set by build flags
	Version = "dev"
)

func main() {
	if err := getRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
