package main

import (
	"fmt"
	"os"

	cmd "github.com/tphakala/fieldpipe/cmd/fieldpipe"
	"github.com/tphakala/fieldpipe/internal/config"
)

func main() {
	configPath := os.Getenv("FIELDPIPE_CONFIG")

	settings, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fieldpipe: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fieldpipe: %v\n", err)
		os.Exit(1)
	}
}
