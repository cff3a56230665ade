// Package events implements the named-topic event bus used for routing and
// verification lifecycle signals.
//
// Emission is synchronous: Emit invokes every handler registered for the
// topic before returning. A child emitter runs its local handlers first and
// then forwards the event to its parent, so per-request listeners and
// process-wide listeners compose. Handler panics are recovered and logged —
// a misbehaving listener never affects the pipeline.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic names a lifecycle signal.
type Topic string

// Topic constants. The set is fixed; Emit on an unknown topic is a no-op
// unless a handler was registered for it.
const (
	RoutingStarted   Topic = "routing-started"
	RoutingSkipped   Topic = "routing-skipped"
	RoutingSucceeded Topic = "routing-succeeded"
	RoutingFailed    Topic = "routing-failed"

	VerificationStarted   Topic = "verification-started"
	VerificationSucceeded Topic = "verification-succeeded"
	VerificationFailed    Topic = "verification-failed"
	VerificationProgress  Topic = "verification-progress"
	VerificationSkipped   Topic = "verification-skipped"
	VerificationWarning   Topic = "verification-warning"

	ManifestProgress Topic = "manifest-progress"
)

// Event is the payload delivered to handlers. Fields not relevant to a
// topic are zero.
type Event struct {
	Topic     Topic
	RequestID uuid.UUID
	TxID      string
	Gateway   string
	Strategy  string
	Err       error

	// Processed/Total carry verification progress byte counts.
	Processed int64
	Total     int64

	// Detail carries topic-specific extras (manifest stage names, depths).
	Detail map[string]any

	Timestamp time.Time
}

// Handler receives events synchronously.
type Handler func(ctx context.Context, ev Event)

// Emitter is a named-topic bus. The zero value is not usable; use New.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	parent   *Emitter
	log      *slog.Logger
}

// New creates a root emitter. A nil logger disables the handler-panic
// warnings.
func New(log *slog.Logger) *Emitter {
	return &Emitter{handlers: make(map[Topic][]Handler), log: log}
}

// Child creates a per-request emitter that forwards every event to e after
// running its own handlers.
func (e *Emitter) Child() *Emitter {
	return &Emitter{handlers: make(map[Topic][]Handler), parent: e, log: e.log}
}

// On registers handler for topic.
func (e *Emitter) On(topic Topic, handler Handler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	e.handlers[topic] = append(e.handlers[topic], handler)
	e.mu.Unlock()
}

// Emit delivers ev to the handlers registered for its topic, then to the
// parent chain. Handlers run on the calling goroutine; registration during
// emission is safe because iteration uses a snapshot.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	snapshot := make([]Handler, len(e.handlers[ev.Topic]))
	copy(snapshot, e.handlers[ev.Topic])
	e.mu.RUnlock()

	for _, h := range snapshot {
		e.invoke(ctx, h, ev)
	}

	if e.parent != nil {
		e.parent.Emit(ctx, ev)
	}
}

func (e *Emitter) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && e.log != nil {
			e.log.WarnContext(ctx, "event_handler_panic",
				slog.String("topic", string(ev.Topic)),
				slog.Any("panic", r),
			)
		}
	}()
	h(ctx, ev)
}
