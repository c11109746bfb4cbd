package main

import (
	"os"

	"github.com/saltyhash/docpipe/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
