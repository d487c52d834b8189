package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/golovatskygroup/edgecloud-mcp/internal/config"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		if errors.Is(err, config.ErrMissingAPIKey) {
			printSetupGuidance(os.Stderr)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
