// Package main is the entry point for the tvplay player.
package main

import (
	"os"

	"github.com/jmylchreest/tvplay/cmd/tvplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
