package engine

import (
	"context"
	"errors"
	"io"
	"time"
)

// sourceStallThreshold marks a producer read as a stall when the source
// takes longer than this to return a chunk.
const sourceStallThreshold = 500 * time.Millisecond

type pipelineConfig struct {
	sourceChunkSize    int
	broadcastChunkSize int
	trackBufferChunks  int
	bytesPerSec        int
}

// producer reads the track body in source-sized chunks and forwards them
// on out. Closing out is the terminal marker for the track; it happens on
// every exit path, including panic unwinding.
func (e *Engine) producer(ctx context.Context, rc io.ReadCloser, out chan<- []byte, cfg pipelineConfig) error {
	defer close(out)

	lastRead := time.Now()
	for {
		buf := make([]byte, cfg.sourceChunkSize)
		n, err := rc.Read(buf)
		now := time.Now()
		if gap := now.Sub(lastRead); gap > 0 {
			e.diag.noteSourceGap(gap, gap > sourceStallThreshold)
		}
		lastRead = now

		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// pacer re-slices source chunks into broadcast frames and meters them out
// so that bytes sent track wall-clock time at the resolved bitrate. It
// sleeps when ahead of schedule and records lateness when behind, but
// never tries to catch up by bursting.
func (e *Engine) pacer(ctx context.Context, in <-chan []byte, cfg pipelineConfig) error {
	start := time.Now()
	bytesSent := 0

	var pending []byte
	for {
		var chunk []byte
		var ok bool

		if len(pending) == 0 {
			waitStart := time.Now()
			select {
			case chunk, ok = <-in:
			case <-ctx.Done():
				drain(in)
				return ctx.Err()
			}
			if waited := time.Since(waitStart); waited > 0 {
				e.diag.addStarve(waited)
			}
			if !ok {
				return nil
			}
			pending = chunk
		}

		frame := pending
		if len(frame) > cfg.broadcastChunkSize {
			frame = frame[:cfg.broadcastChunkSize]
		}
		pending = pending[len(frame):]

		target := time.Duration(bytesSent) * time.Second / time.Duration(cfg.bytesPerSec)
		elapsed := time.Since(start)
		switch {
		case target > elapsed:
			ahead := target - elapsed
			e.diag.addPacingSleep(ahead)
			select {
			case <-time.After(ahead):
			case <-ctx.Done():
				drain(in)
				return ctx.Err()
			}
		case elapsed > target:
			e.diag.addPacingLate(elapsed - target)
		}

		e.fanout.Broadcast(frame)
		bytesSent += len(frame)
		e.diag.addFrame(len(frame))
	}
}

// runPipeline plays one track end to end: open, produce, pace. The
// producer owns the reader; the pacer drains whatever the producer sent
// before returning so the producer can never block on a dead channel.
func (e *Engine) runPipeline(ctx context.Context, rc io.ReadCloser, cfg pipelineConfig) error {
	defer rc.Close()

	buf := make(chan []byte, cfg.trackBufferChunks)

	prodErr := make(chan error, 1)
	go func() {
		prodErr <- e.producer(ctx, rc, buf, cfg)
	}()

	paceErr := e.pacer(ctx, buf, cfg)

	// The producer unblocks once the pacer drained buf or ctx ended.
	perr := <-prodErr

	if paceErr != nil {
		return paceErr
	}
	return perr
}

func drain(in <-chan []byte) {
	for range in {
	}
}
