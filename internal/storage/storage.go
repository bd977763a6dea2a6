package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/georgenavi/esimdb-scraper/internal/logger"
)

// Package storage keeps a local ledger of per-country run outcomes.

// OutcomeRecord is the persisted form of one country result within a run.
type OutcomeRecord struct {
	RunID       string    `json:"run_id"`
	RunDate     string    `json:"run_date"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Success     bool      `json:"success"`
	RecordCount int       `json:"record_count"`
	Artifact    string    `json:"artifact,omitempty"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store records run outcomes. It is a history, never consulted to resume a run.
type Store interface {
	Close() error
	RecordOutcome(rec OutcomeRecord) error
	RunOutcomes(runID string) ([]OutcomeRecord, error)
}

// Options controls retention characteristics for concrete store implementations.
type Options struct {
	OutcomeTTL      time.Duration
	CleanupInterval time.Duration
	Logger          logger.Logger
}

const (
	defaultOutcomeTTL      = 30 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string, opts Options) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return noopStore{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path, opts)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.OutcomeTTL <= 0 {
		opts.OutcomeTTL = defaultOutcomeTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type noopStore struct{}

func (noopStore) Close() error                                { return nil }
func (noopStore) RecordOutcome(OutcomeRecord) error           { return nil }
func (noopStore) RunOutcomes(string) ([]OutcomeRecord, error) { return nil, nil }
