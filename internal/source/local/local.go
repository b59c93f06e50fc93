// Package local serves tracks from a directory tree on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"radiod/internal/source"
	"radiod/pkg/logx"
)

const listTTL = 10 * time.Second

type localTrack struct {
	path string
}

// Library is the local filesystem source.
//
// The file listing is cached for a short TTL; an fsnotify watcher on the
// tree invalidates the cache immediately when files are added or removed,
// so newly dropped tracks join the rotation without waiting out the TTL.
type Library struct {
	dir string
	log logx.Logger

	mu       sync.Mutex
	files    []string
	listedAt time.Time
	listExts string // extension set the cached listing was built for

	watcher *fsnotify.Watcher
	done    chan struct{}
	closed  sync.Once
}

func NewLibrary(dir string, log logx.Logger) *Library {
	l := &Library{
		dir:  strings.TrimSpace(dir),
		log:  log,
		done: make(chan struct{}),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.log.Warn("local library watcher unavailable, relying on TTL", logx.Err(err))
		return l
	}
	l.watcher = w
	if err := w.Add(l.dir); err != nil {
		l.log.Debug("music dir not watchable yet", logx.String("dir", l.dir), logx.Err(err))
	}
	go l.watch()
	return l
}

func (l *Library) ID() string { return "local" }

func (l *Library) DisplayName(ctx context.Context) string {
	if l.dir == "" {
		return "local"
	}
	return filepath.Base(l.dir)
}

func (l *Library) Enabled() bool { return l.dir != "" }

func (l *Library) NextTrack(ctx context.Context, mimeType string, rng *rand.Rand) (source.Track, error) {
	if l.dir == "" {
		return source.Track{}, fmt.Errorf("%w: local music dir is not set", source.ErrMisconfigured)
	}
	files, err := l.listing(mimeType)
	if err != nil {
		return source.Track{}, err
	}
	if len(files) == 0 {
		return source.Track{}, fmt.Errorf("%w: no audio files in %s", source.ErrExhausted, l.dir)
	}

	path := files[rng.IntN(len(files))]
	name := filepath.Base(path)
	title := strings.TrimSuffix(name, filepath.Ext(name))

	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}

	// Duration stays unknown for local files; the pipeline falls back to a
	// title hint or the assumed bitrate.
	return source.Track{Title: title, Size: size, Ref: localTrack{path: path}}, nil
}

func (l *Library) Open(ctx context.Context, track source.Track) (io.ReadCloser, error) {
	ref, ok := track.Ref.(localTrack)
	if !ok {
		return nil, errors.New("local: track ref from another source")
	}
	return os.Open(ref.path)
}

func (l *Library) Close() error {
	var err error
	l.closed.Do(func() {
		close(l.done)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}

func (l *Library) listing(mimeType string) ([]string, error) {
	exts := source.ExtensionsForMime(mimeType)
	extKey := strings.Join(exts, ",")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listExts == extKey && time.Since(l.listedAt) < listTTL && l.files != nil {
		return l.files, nil
	}

	extSet := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		extSet[e] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree; skip it rather than failing the track pick.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if l.watcher != nil {
				_ = l.watcher.Add(path)
			}
			return nil
		}
		if _, ok := extSet[strings.ToLower(filepath.Ext(path))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			files = nil
		} else {
			return nil, fmt.Errorf("local: list %s: %w", l.dir, err)
		}
	}

	l.files = files
	l.listedAt = time.Now()
	l.listExts = extKey
	return files, nil
}

func (l *Library) watch() {
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = l.watcher.Add(ev.Name)
				}
			}
			l.invalidate()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Debug("local library watch error", logx.Err(err))
		}
	}
}

func (l *Library) invalidate() {
	l.mu.Lock()
	l.listedAt = time.Time{}
	l.mu.Unlock()
}
