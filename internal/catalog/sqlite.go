package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"radiod/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tracks (
	channel  TEXT NOT NULL,
	file_id  TEXT NOT NULL,
	title    TEXT NOT NULL,
	duration INTEGER NOT NULL DEFAULT 0,
	size     INTEGER NOT NULL DEFAULT 0,
	added_at TEXT NOT NULL,
	PRIMARY KEY (channel, file_id)
);
CREATE INDEX IF NOT EXISTS idx_tracks_added ON tracks(channel, added_at);
`

type sqliteCatalog struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Catalog, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("catalog.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteCatalog{db: db, log: log}, nil
}

func (c *sqliteCatalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *sqliteCatalog) Put(ctx context.Context, channel string, e Entry) error {
	if c == nil || c.db == nil {
		return ErrDisabled
	}
	if channel == "" || e.FileID == "" {
		return nil
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO tracks(channel, file_id, title, duration, size, added_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(channel, file_id) DO UPDATE SET
		   title=excluded.title, duration=excluded.duration, size=excluded.size`,
		channel, e.FileID, e.Title, e.Duration, e.Size, e.AddedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (c *sqliteCatalog) List(ctx context.Context, channel string) ([]Entry, error) {
	if c == nil || c.db == nil {
		return nil, ErrDisabled
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT file_id, title, duration, size, added_at
		 FROM tracks WHERE channel = ? ORDER BY added_at, file_id`, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.FileID, &e.Title, &e.Duration, &e.Size, &at); err != nil {
			return nil, err
		}
		if ts, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.AddedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *sqliteCatalog) Prune(ctx context.Context, channel string, keep int) error {
	if c == nil || c.db == nil {
		return ErrDisabled
	}
	if keep <= 0 {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`DELETE FROM tracks WHERE channel = ? AND file_id NOT IN (
		   SELECT file_id FROM tracks WHERE channel = ?
		   ORDER BY added_at DESC, file_id DESC LIMIT ?
		 )`, channel, channel, keep)
	return err
}
