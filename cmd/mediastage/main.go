// Package main is the entry point for the mediastage application.
package main

import (
	"os"

	"github.com/jmylchreest/mediastage/cmd/mediastage/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
