package engine

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"radiod/pkg/logx"
)

// Subscriber is one live listener's read side: a bounded FIFO of broadcast
// frames. The channel is closed when the subscriber is evicted, unsubscribed
// or the engine shuts down; a closed channel is the terminal marker.
type Subscriber struct {
	id        uint64
	frames    chan []byte
	createdAt time.Time

	closeOnce sync.Once
}

func (s *Subscriber) ID() uint64            { return s.id }
func (s *Subscriber) CreatedAt() time.Time  { return s.createdAt }
func (s *Subscriber) Frames() <-chan []byte { return s.frames }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.frames) })
}

// Fanout distributes every paced frame to all registered subscribers.
//
// A subscriber whose queue is full is consuming slower than real time and is
// dropped entirely: a partial byte stream corrupts the audio container,
// whereas a dropped connection just ends cleanly. New subscribers receive
// only frames broadcast after they joined.
type Fanout struct {
	log      logx.Logger
	diag     *Diagnostics
	queueCap int

	// Throttles eviction logging when many slow clients drop at once.
	evictLog *rate.Limiter

	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID uint64
	closed bool
}

func NewFanout(queueCap int, diag *Diagnostics, log logx.Logger) *Fanout {
	if queueCap <= 0 {
		queueCap = 64
	}
	return &Fanout{
		log:      log,
		diag:     diag,
		queueCap: queueCap,
		evictLog: rate.NewLimiter(rate.Every(time.Second), 5),
		subs:     map[uint64]*Subscriber{},
	}
}

// Subscribe registers a new listener. After Close it returns an already
// terminated subscriber so late HTTP requests end cleanly instead of hanging.
func (f *Fanout) Subscribe() *Subscriber {
	f.mu.Lock()
	f.nextID++
	sub := &Subscriber{
		id:        f.nextID,
		frames:    make(chan []byte, f.queueCap),
		createdAt: time.Now(),
	}
	if f.closed {
		f.mu.Unlock()
		sub.close()
		return sub
	}
	f.subs[sub.id] = sub
	f.mu.Unlock()

	f.diag.subscriberCreated()
	f.log.Debug("subscriber joined", logx.Uint64("id", sub.id))
	return sub
}

// Unsubscribe removes a listener (client disconnect). Idempotent.
func (f *Fanout) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	f.mu.Lock()
	_, present := f.subs[sub.id]
	delete(f.subs, sub.id)
	f.mu.Unlock()

	sub.close()
	if present {
		f.diag.subscriberClosed()
		f.log.Debug("subscriber left", logx.Uint64("id", sub.id))
	}
}

// Broadcast enqueues one frame to every subscriber without blocking.
// Called exactly once per paced frame by the pipeline.
func (f *Fanout) Broadcast(frame []byte) {
	var evicted []*Subscriber

	f.mu.Lock()
	for id, sub := range f.subs {
		select {
		case sub.frames <- frame:
		default:
			// Queue full: the subscriber fell behind real time.
			delete(f.subs, id)
			evicted = append(evicted, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range evicted {
		sub.close()
		f.diag.subscriberDropped()
		if f.evictLog.Allow() {
			f.log.Warn("slow subscriber evicted",
				logx.Uint64("id", sub.id),
				logx.Duration("lifetime", time.Since(sub.createdAt)))
		}
	}
}

// Count returns the number of live subscribers.
func (f *Fanout) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close terminates every subscriber so their readers end cleanly rather than
// hanging. Subsequent Subscribe calls return terminated subscribers.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*Subscriber, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = map[uint64]*Subscriber{}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.close()
		f.diag.subscriberClosed()
	}
	if len(subs) > 0 {
		f.log.Info("fan-out closed", logx.Int("subscribers", len(subs)))
	}
}
