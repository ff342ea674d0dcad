package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"tickrun/internal/job"
	logx "tickrun/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the outcome store.
//
// Driver values:
//   - "file": append-only JSONL backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepRuns    int           // retention bound; 0 means default
}

// Store is the minimal persistence API used by the scheduler and CLI.
type Store interface {
	Append(ctx context.Context, o job.Outcome) error
	Recent(ctx context.Context, n int) ([]job.Outcome, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
