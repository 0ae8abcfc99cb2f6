// Package main provides the entry point for the akidb CLI.
package main

import (
	"os"

	"github.com/akidb/akidb/cmd/akidb/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
