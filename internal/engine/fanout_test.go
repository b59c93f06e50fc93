package engine

import (
	"testing"

	"radiod/pkg/logx"
)

func newTestFanout(queueCap int) (*Fanout, *Diagnostics) {
	diag := NewDiagnostics()
	return NewFanout(queueCap, diag, logx.Nop()), diag
}

func TestFanoutDeliversInOrder(t *testing.T) {
	t.Parallel()
	f, _ := newTestFanout(16)

	sub := f.Subscribe()
	for i := byte(0); i < 10; i++ {
		f.Broadcast([]byte{i})
	}
	f.Unsubscribe(sub)

	var got []byte
	for frame := range sub.Frames() {
		got = append(got, frame...)
	}
	if len(got) != 10 {
		t.Fatalf("received %d frames, want 10", len(got))
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("frame %d = %d, out of order", i, b)
		}
	}
}

func TestFanoutEvictsFullQueue(t *testing.T) {
	t.Parallel()
	const queueCap = 4
	f, diag := newTestFanout(queueCap)

	slow := f.Subscribe()
	fast := f.Subscribe()

	// Drain the fast subscriber after each frame so only the slow one
	// fills up. queueCap frames fit; the next one evicts.
	for i := 0; i < queueCap; i++ {
		f.Broadcast([]byte{byte(i)})
		<-fast.Frames()
	}
	if f.Count() != 2 {
		t.Fatalf("subscriber evicted before its queue overflowed")
	}
	f.Broadcast([]byte{0xff})
	<-fast.Frames()
	if f.Count() != 1 {
		t.Fatalf("subscriber count = %d after overflow, want 1", f.Count())
	}

	// The evicted channel is closed and holds only the pre-overflow frames.
	n := 0
	for range slow.Frames() {
		n++
	}
	if n != queueCap {
		t.Fatalf("evicted subscriber drained %d frames, want %d", n, queueCap)
	}

	snap := diag.SnapshotWith(f.Count())
	if snap.SubsDropped != 1 {
		t.Fatalf("SubsDropped = %d, want 1", snap.SubsDropped)
	}
}

func TestFanoutUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	f, diag := newTestFanout(4)

	sub := f.Subscribe()
	f.Unsubscribe(sub)
	f.Unsubscribe(sub)
	f.Unsubscribe(nil)

	if f.Count() != 0 {
		t.Fatalf("Count = %d after unsubscribe, want 0", f.Count())
	}
	snap := diag.SnapshotWith(0)
	if snap.SubsClosed != 1 {
		t.Fatalf("SubsClosed = %d, want 1", snap.SubsClosed)
	}
}

func TestFanoutCloseTerminatesAll(t *testing.T) {
	t.Parallel()
	f, _ := newTestFanout(4)

	a := f.Subscribe()
	b := f.Subscribe()
	f.Close()

	for _, sub := range []*Subscriber{a, b} {
		if _, ok := <-sub.Frames(); ok {
			t.Fatalf("subscriber %d channel still open after Close", sub.ID())
		}
	}

	// Late joiners get a terminated subscriber, not a hang.
	late := f.Subscribe()
	if _, ok := <-late.Frames(); ok {
		t.Fatalf("post-Close subscriber channel is open")
	}

	f.Close() // idempotent
}

func TestFanoutBroadcastAfterCloseIsNoop(t *testing.T) {
	t.Parallel()
	f, _ := newTestFanout(4)
	f.Subscribe()
	f.Close()
	f.Broadcast([]byte{1})
	if f.Count() != 0 {
		t.Fatalf("Count = %d after Close, want 0", f.Count())
	}
}
