package local

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"radiod/internal/source"
	"radiod/pkg/logx"
)

func testRng() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNextTrackPicksEligibleFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp3"), []byte("aaa"))
	writeFile(t, filepath.Join(dir, "sub", "b.mp3"), []byte("bbbbb"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("x"))

	lib := NewLibrary(dir, logx.Nop())
	defer lib.Close()

	seen := map[string]bool{}
	rng := testRng()
	for i := 0; i < 32; i++ {
		tr, err := lib.NextTrack(context.Background(), "audio/mpeg", rng)
		if err != nil {
			t.Fatalf("NextTrack: %v", err)
		}
		seen[tr.Title] = true
		if tr.Size == 0 {
			t.Fatalf("expected file size for %q", tr.Title)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected both tracks in rotation, got %v", seen)
	}
	if seen["notes"] {
		t.Fatal("non-audio file must not be eligible")
	}
}

func TestNextTrackDeterministicWithSameRng(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"a.mp3", "b.mp3", "c.mp3", "d.mp3"} {
		writeFile(t, filepath.Join(dir, name), []byte("data"))
	}

	lib := NewLibrary(dir, logx.Nop())
	defer lib.Close()

	pick := func() []string {
		rng := testRng()
		var titles []string
		for i := 0; i < 8; i++ {
			tr, err := lib.NextTrack(context.Background(), "audio/mpeg", rng)
			if err != nil {
				t.Fatalf("NextTrack: %v", err)
			}
			titles = append(titles, tr.Title)
		}
		return titles
	}

	first, second := pick(), pick()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("pick %d differs: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestNextTrackEmptyDir(t *testing.T) {
	t.Parallel()
	lib := NewLibrary(t.TempDir(), logx.Nop())
	defer lib.Close()

	_, err := lib.NextTrack(context.Background(), "audio/mpeg", testRng())
	if !errors.Is(err, source.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestNextTrackMissingDirConfig(t *testing.T) {
	t.Parallel()
	lib := NewLibrary("", logx.Nop())
	defer lib.Close()

	_, err := lib.NextTrack(context.Background(), "audio/mpeg", testRng())
	if !errors.Is(err, source.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestOpenStreamsFileBytes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	payload := []byte("mp3 payload bytes")
	writeFile(t, filepath.Join(dir, "song.mp3"), payload)

	lib := NewLibrary(dir, logx.Nop())
	defer lib.Close()

	tr, err := lib.NextTrack(context.Background(), "audio/mpeg", testRng())
	if err != nil {
		t.Fatalf("NextTrack: %v", err)
	}
	rc, err := lib.Open(context.Background(), tr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("stream bytes differ: %q", got)
	}
}

func TestOpenRejectsForeignRef(t *testing.T) {
	t.Parallel()
	lib := NewLibrary(t.TempDir(), logx.Nop())
	defer lib.Close()

	if _, err := lib.Open(context.Background(), source.Track{Ref: "not-ours"}); err == nil {
		t.Fatal("expected error for foreign track ref")
	}
}

func TestWatcherInvalidatesListing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mp3"), []byte("aaa"))

	lib := NewLibrary(dir, logx.Nop())
	defer lib.Close()

	if _, err := lib.NextTrack(context.Background(), "audio/mpeg", testRng()); err != nil {
		t.Fatalf("NextTrack: %v", err)
	}

	writeFile(t, filepath.Join(dir, "fresh.mp3"), []byte("bbb"))

	// The watcher invalidates the TTL cache; give the event a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rng := testRng()
		seen := map[string]bool{}
		for i := 0; i < 16; i++ {
			tr, err := lib.NextTrack(context.Background(), "audio/mpeg", rng)
			if err != nil {
				t.Fatalf("NextTrack: %v", err)
			}
			seen[tr.Title] = true
		}
		if seen["fresh"] {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("new file never joined the rotation")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
