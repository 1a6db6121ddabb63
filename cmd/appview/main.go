// Package main is the entry point of the appview binary.
package main

import (
	"os"

	"github.com/syntrixbase/appview/cmd/appview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
