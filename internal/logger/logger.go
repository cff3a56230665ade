// Package logger provides slog construction and an asynchronous recorder
// for verification outcomes.
//
// The Recorder subscribes to the verification lifecycle events and keeps
// outcomes in a fixed-size ring: recording never blocks the pipeline and
// never allocates past the ring. Under sustained overload the oldest
// unflushed entries are overwritten (and counted in Dropped) — recent
// outcomes are worth more than old ones when the log sink cannot keep up.
// A single background goroutine drains the ring whenever a batch worth of
// entries has accumulated, and at least every flush interval.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ar-io/wayfinder-go/internal/events"
)

const (
	ringCapacity  = 4096
	flushBatch    = 64
	maxFlushDelay = 2 * time.Second
)

// VerificationLog records the outcome of one verification pass.
type VerificationLog struct {
	RequestID uuid.UUID
	TxID      string
	Strategy  string
	Gateway   string
	Verified  bool
	Bytes     int64
	LatencyMs int64
	Error     string
	CreatedAt time.Time
}

// Recorder buffers verification outcomes and writes them through slog off
// the request path.
type Recorder struct {
	log *slog.Logger

	mu      sync.Mutex
	ring    []VerificationLog
	start   int // index of the oldest entry
	length  int
	dropped int64

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewRecorder starts a Recorder writing through slogger. A nil slogger
// falls back to a JSON logger on stdout.
func NewRecorder(slogger *slog.Logger) *Recorder {
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	r := &Recorder{
		log:     slogger,
		ring:    make([]VerificationLog, ringCapacity),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Attach subscribes the recorder to emitter's verification outcomes.
func (r *Recorder) Attach(e *events.Emitter) {
	e.On(events.VerificationSucceeded, func(_ context.Context, ev events.Event) {
		r.Record(entryFromEvent(ev, true))
	})
	e.On(events.VerificationFailed, func(_ context.Context, ev events.Event) {
		r.Record(entryFromEvent(ev, false))
	})
}

// Record buffers one entry. When the ring is full the oldest unflushed
// entry is overwritten and counted in Dropped.
func (r *Recorder) Record(entry VerificationLog) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if r.length == len(r.ring) {
		r.start = (r.start + 1) % len(r.ring)
		r.length--
		r.dropped++
	}
	r.ring[(r.start+r.length)%len(r.ring)] = entry
	r.length++
	batchReady := r.length >= flushBatch
	r.mu.Unlock()

	if batchReady {
		select {
		case r.wake <- struct{}{}:
		default: // a flush is already pending
		}
	}
}

// Dropped reports how many entries were overwritten before reaching the
// sink.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes the remaining entries and stops the recorder.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	<-r.stopped
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.stopped)

	timer := time.NewTimer(maxFlushDelay)
	defer timer.Stop()

	for {
		select {
		case <-r.wake:
		case <-timer.C:
		case <-r.done:
			r.flush()
			return
		}

		r.flush()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(maxFlushDelay)
	}
}

// flush snapshots the ring under the lock and writes outside it.
func (r *Recorder) flush() {
	r.mu.Lock()
	n := r.length
	if n == 0 {
		r.mu.Unlock()
		return
	}
	out := make([]VerificationLog, n)
	for i := 0; i < n; i++ {
		out[i] = r.ring[(r.start+i)%len(r.ring)]
	}
	r.start, r.length = 0, 0
	r.mu.Unlock()

	for _, e := range out {
		r.log.Info("verification",
			slog.String("request_id", e.RequestID.String()),
			slog.String("tx_id", e.TxID),
			slog.String("strategy", e.Strategy),
			slog.String("gateway", e.Gateway),
			slog.Bool("verified", e.Verified),
			slog.Int64("bytes", e.Bytes),
			slog.Int64("latency_ms", e.LatencyMs),
			slog.String("error", e.Error),
			slog.Time("created_at", e.CreatedAt.UTC()),
		)
	}
}

func entryFromEvent(ev events.Event, verified bool) VerificationLog {
	entry := VerificationLog{
		RequestID: ev.RequestID,
		TxID:      ev.TxID,
		Strategy:  ev.Strategy,
		Gateway:   ev.Gateway,
		Verified:  verified,
		Bytes:     ev.Processed,
		CreatedAt: ev.Timestamp,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	if ms, ok := ev.Detail["latency_ms"].(int64); ok {
		entry.LatencyMs = ms
	}
	return entry
}

// Build constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func Build(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
