package main

import (
	"context"
	"fmt"
	"os"

	"github.com/georgenavi/esimdb-scraper/internal/app"
	"github.com/georgenavi/esimdb-scraper/internal/config"
	"github.com/georgenavi/esimdb-scraper/internal/logger"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scraper failed: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.Load()
	if err != nil {
		return exitFailure, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.Init(cfg)
	if err != nil {
		return exitFailure, fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("scraper starting", "config", cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := watchSignals(cancel, log)
	defer stopSignals()

	scraper, err := app.NewScraper(ctx, cfg, log)
	if err != nil {
		logger.ErrorObj("failed to initialize scraper", "error", err)
		return exitFailure, err
	}

	summary, err := scraper.Run(ctx)
	if ctx.Err() != nil {
		logger.WarnObj("run interrupted", "run_summary", map[string]any{
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		})
		return exitInterrupted, nil
	}
	if err != nil {
		return exitFailure, fmt.Errorf("scraper run: %w", err)
	}
	return exitOK, nil
}
