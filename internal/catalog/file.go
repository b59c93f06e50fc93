package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"radiod/pkg/logx"
)

// fileCatalog is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileCatalog struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	// entries[channel][fileID]
	entries map[string]map[string]Entry

	writes int
}

type journalRecord struct {
	Channel string `json:"channel"`
	Entry   Entry  `json:"entry"`
}

func openFile(cfg Config, log logx.Logger) (Catalog, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("catalog.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	entries := map[string]map[string]Entry{}
	_ = loadSnapshot(snapPath, entries)
	_ = replayJournal(journalPath, entries)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileCatalog{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		entries:      entries,
	}, nil
}

func (c *fileCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journalFile == nil {
		return nil
	}
	err := c.compactLocked()
	cerr := c.journalFile.Close()
	c.journalFile = nil
	if err != nil {
		return err
	}
	return cerr
}

func (c *fileCatalog) Put(ctx context.Context, channel string, e Entry) error {
	_ = ctx
	channel = strings.TrimSpace(channel)
	if channel == "" || e.FileID == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journalFile == nil {
		return errors.New("catalog journal closed")
	}
	ch := c.entries[channel]
	if ch == nil {
		ch = map[string]Entry{}
		c.entries[channel] = ch
	}
	ch[e.FileID] = e

	enc := json.NewEncoder(c.journalFile)
	if err := enc.Encode(journalRecord{Channel: channel, Entry: e}); err != nil {
		return err
	}
	c.writes++
	if c.writes%1000 == 0 {
		// Best-effort compact.
		if err := c.compactLocked(); err != nil {
			c.log.Debug("catalog compact failed", logx.Err(err))
		}
	}
	return nil
}

func (c *fileCatalog) List(ctx context.Context, channel string) ([]Entry, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.entries[strings.TrimSpace(channel)]
	out := make([]Entry, 0, len(ch))
	for _, e := range ch {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].FileID < out[j].FileID
	})
	return out, nil
}

func (c *fileCatalog) Prune(ctx context.Context, channel string, keep int) error {
	if keep <= 0 {
		return nil
	}
	all, err := c.List(ctx, channel)
	if err != nil {
		return err
	}
	if len(all) <= keep {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.entries[strings.TrimSpace(channel)]
	for _, e := range all[:len(all)-keep] {
		delete(ch, e.FileID)
	}
	return c.compactLocked()
}

func (c *fileCatalog) compactLocked() error {
	tmp := c.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(c.entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.snapshotPath); err != nil {
		return err
	}

	// Truncate the journal; its records are now in the snapshot.
	if c.journalFile != nil {
		if err := c.journalFile.Truncate(0); err != nil {
			return err
		}
		if _, err := c.journalFile.Seek(0, 0); err != nil {
			return err
		}
	}
	return nil
}

func loadSnapshot(path string, into map[string]map[string]Entry) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, &into)
}

func replayJournal(path string, into map[string]map[string]Entry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // tolerate torn tail writes
		}
		ch := into[rec.Channel]
		if ch == nil {
			ch = map[string]Entry{}
			into[rec.Channel] = ch
		}
		ch[rec.Entry.FileID] = rec.Entry
	}
	return sc.Err()
}
