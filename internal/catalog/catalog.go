// Package catalog persists the candidate-track library of remote sources so
// the station has something to play right after a restart, before fresh
// channel posts arrive.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"radiod/pkg/logx"
)

var ErrDisabled = errors.New("catalog disabled")

// Config configures the catalog backend.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the catalog is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one remembered playable candidate.
// Keep it compact and schema-stable.
type Entry struct {
	FileID   string    `json:"file_id"`
	Title    string    `json:"title"`
	Duration int       `json:"duration_seconds,omitempty"`
	Size     int64     `json:"size,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Catalog is the minimal persistence API used by remote sources.
type Catalog interface {
	// Put upserts one candidate for the given channel (keyed by FileID).
	Put(ctx context.Context, channel string, e Entry) error
	// List returns all candidates for a channel, oldest first.
	List(ctx context.Context, channel string) ([]Entry, error)
	// Prune drops the oldest entries beyond keep.
	Prune(ctx context.Context, channel string, keep int) error
	Close() error
}

// Open initializes the configured catalog.
// When the catalog is disabled it returns a no-op backend, never a nil
// interface, so callers may defer Close and call Put/List/Prune freely.
func Open(cfg Config, log logx.Logger) (Catalog, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return disabledCatalog{}, nil
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
		return nil, errors.New("unknown catalog driver: " + driver)
	}
}

// disabledCatalog remembers nothing and never fails.
type disabledCatalog struct{}

func (disabledCatalog) Put(context.Context, string, Entry) error      { return nil }
func (disabledCatalog) List(context.Context, string) ([]Entry, error) { return nil, nil }
func (disabledCatalog) Prune(context.Context, string, int) error      { return nil }
func (disabledCatalog) Close() error                                  { return nil }
