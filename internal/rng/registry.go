// Package rng hands out reproducible per-(day, source, key) random streams.
//
// Track picks must be replayable within a calendar day so the "upcoming"
// preview can agree with the live selection, yet independent across days.
// Each registry entry is seeded from a stable digest of (date, kind, key);
// preview consumers get clones primed with the live state so their draws
// never advance the live generator.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"radiod/pkg/logx"
)

type entry struct {
	day string // "2006-01-02" in the registry location
	src *rand.PCG
	rnd *rand.Rand
}

// Registry maintains one live generator per (kind, key).
//
// The live generator is single-writer: only the master loop draws from it.
// Clone() is the read-only path for everyone else.
type Registry struct {
	mu      sync.Mutex
	loc     *time.Location
	entries map[string]*entry

	cron *cron.Cron
	log  logx.Logger

	// now is a test seam.
	now func() time.Time
}

func NewRegistry(loc *time.Location, log logx.Logger) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		loc:     loc,
		entries: map[string]*entry{},
		log:     log,
		now:     time.Now,
	}
}

// StartRollover schedules an atomic registry reset at midnight in the
// registry's location. Entries are also lazily reseeded on access, so the
// cron job only guarantees promptness, not correctness.
func (r *Registry) StartRollover() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return
	}
	c := cron.New(cron.WithLocation(r.loc))
	_, err := c.AddFunc("0 0 * * *", r.Reset)
	if err != nil {
		r.log.Error("rng rollover job rejected", logx.Err(err))
		return
	}
	c.Start()
	r.cron = c
}

func (r *Registry) StopRollover() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Reset drops every entry; next access reseeds with the current day.
func (r *Registry) Reset() {
	r.mu.Lock()
	n := len(r.entries)
	r.entries = map[string]*entry{}
	r.mu.Unlock()
	if n > 0 {
		r.log.Debug("rng registry cleared", logx.Int("entries", n))
	}
}

// Pick returns the live generator for (kind, key), reseeding if the calendar
// day changed since the entry was created.
func (r *Registry) Pick(kind, key string) *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveLocked(kind, key).rnd
}

// Clone returns an independent generator primed with the current state of the
// live (kind, key) entry. Draws on the clone never advance the live entry.
func (r *Registry) Clone(kind, key string) *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.liveLocked(kind, key)

	b, err := e.src.MarshalBinary()
	if err != nil {
		// PCG marshal cannot fail in practice; fall back to a fresh
		// same-day seed so preview still works.
		s1, s2 := seedFor(e.day, kind, key)
		return rand.New(rand.NewPCG(s1, s2))
	}
	cp := &rand.PCG{}
	if err := cp.UnmarshalBinary(b); err != nil {
		s1, s2 := seedFor(e.day, kind, key)
		return rand.New(rand.NewPCG(s1, s2))
	}
	return rand.New(cp)
}

func (r *Registry) liveLocked(kind, key string) *entry {
	day := r.now().In(r.loc).Format("2006-01-02")
	id := kind + "\x00" + key
	e := r.entries[id]
	if e == nil || e.day != day {
		s1, s2 := seedFor(day, kind, key)
		src := rand.NewPCG(s1, s2)
		e = &entry{day: day, src: src, rnd: rand.New(src)}
		r.entries[id] = e
	}
	return e
}

// seedFor derives a stable, collision-resistant seed pair from
// (ISO date, kind, key).
func seedFor(day, kind, key string) (uint64, uint64) {
	h := sha256.New()
	h.Write([]byte(day))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(key))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])
}
