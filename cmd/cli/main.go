package main

import (
	"os"

	"tender-cost/cmd/cli/cmd"
	"tender-cost/internal/logging"
)

func main() {
	defer logging.Sync()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
