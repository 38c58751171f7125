// Command yieldd runs a yield-funded voting node behind an HTTP API.
package main

import (
	"fmt"
	"os"

	"YieldRounds/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	if err := loadDotEnv(); err != nil {
		return err
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("load config:\n%w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.InitWith(os.Stdout, level)

	if err := cfg.Validate(); err != nil {
		return err
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	logger.Info("starting yieldd",
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"signers", len(cfg.Signers),
		"threshold", cfg.Threshold,
		"swap_rate", fmt.Sprintf("%d/%d", cfg.Swap.RateNum, cfg.Swap.RateDen),
	)

	if cfg.RestorePath != "" {
		logger.Info("restore requested", "snapshot", cfg.RestorePath)
	}
}
