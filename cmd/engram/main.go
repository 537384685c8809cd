package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotsetgreg/engram/pkg/config"
	"github.com/dotsetgreg/engram/pkg/memory"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("engram %s (commit %s, built %s)\n", version, commit, date)
}

func getConfigPath() string {
	if p := os.Getenv("ENGRAM_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "engram.json"
	}
	return filepath.Join(home, ".engram", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

// withEngine builds an engine from the resolved config, runs fn, and closes
// the engine afterwards regardless of outcome.
func withEngine(fn func(ctx context.Context, e *memory.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, err := memory.NewEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(context.Background(), engine)
}
