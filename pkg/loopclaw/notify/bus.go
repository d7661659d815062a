// Package notify implements the notification sink: an in-memory pub/sub bus
// for loop lifecycle events, with fan-out to external notifiers for
// user-visible non-fatal error toasts.
//
// Event streams:
//   - "lifecycle": run_start, run_end
//   - "agent": output (stdout lines from the agent process)
//   - "error": loop_error (validation, I/O, and execution failures)
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event represents a single typed event from a loop runner.
type Event struct {
	RunID          string    `json:"run_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Seq            int64     `json:"seq"`
	Stream         string    `json:"stream"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	Data           any       `json:"data,omitempty"`
}

// Listener is a callback that receives events. Listeners are invoked
// synchronously during Emit and should stay fast.
type Listener func(event Event)

// Notifier delivers user-visible notifications to an external surface
// (Discord channel, desktop toast, ...).
type Notifier interface {
	Notify(kind, message string) error
}

// Bus is a thread-safe pub/sub hub for loop events.
type Bus struct {
	listeners sync.Map // listenerID (uint64) → Listener
	nextID    atomic.Uint64
	seqByRun  sync.Map // runID → *atomic.Int64

	mu        sync.Mutex
	notifiers []Notifier
	logger    *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "notify")}
}

// AddNotifier registers an external notifier for Broadcast calls.
func (b *Bus) AddNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifiers = append(b.notifiers, n)
}

// Subscribe registers a listener and returns an unsubscribe function.
func (b *Bus) Subscribe(fn Listener) func() {
	id := b.nextID.Add(1)
	b.listeners.Store(id, fn)
	return func() { b.listeners.Delete(id) }
}

// Emit sends an event to all listeners. Seq is auto-assigned per run ID.
func (b *Bus) Emit(event Event) {
	if event.RunID != "" {
		event.Seq = b.runSeq(event.RunID).Add(1)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.listeners.Range(func(_, value any) bool {
		if fn, ok := value.(Listener); ok {
			fn(event)
		}
		return true
	})
}

// Broadcast sends a user-visible notification through every registered
// notifier and mirrors it on the "error" stream. Notifier failures are
// logged, never propagated — a broken toast must not break the loop.
func (b *Bus) Broadcast(kind, message string) {
	b.Emit(Event{Stream: "error", Type: kind, Data: map[string]string{"message": message}})

	b.mu.Lock()
	notifiers := append([]Notifier(nil), b.notifiers...)
	b.mu.Unlock()
	for _, n := range notifiers {
		if err := n.Notify(kind, message); err != nil {
			b.logger.Warn("notifier delivery failed", "kind", kind, "error", err)
		}
	}
}

// EmitRunStart emits a lifecycle event for the beginning of an agent run.
func (b *Bus) EmitRunStart(runID, conversationID, message string) {
	b.Emit(Event{
		RunID:          runID,
		ConversationID: conversationID,
		Stream:         "lifecycle",
		Type:           "run_start",
		Data:           map[string]string{"message": message},
	})
}

// EmitRunEnd emits a lifecycle event for a completed run. err may be nil.
func (b *Bus) EmitRunEnd(runID, conversationID string, err error) {
	data := map[string]any{"ok": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Emit(Event{
		RunID:          runID,
		ConversationID: conversationID,
		Stream:         "lifecycle",
		Type:           "run_end",
		Data:           data,
	})
	b.seqByRun.Delete(runID)
}

// EmitOutput emits one line of agent output.
func (b *Bus) EmitOutput(runID, conversationID, line string) {
	b.Emit(Event{
		RunID:          runID,
		ConversationID: conversationID,
		Stream:         "agent",
		Type:           "output",
		Data:           map[string]string{"line": line},
	})
}

func (b *Bus) runSeq(runID string) *atomic.Int64 {
	if v, ok := b.seqByRun.Load(runID); ok {
		return v.(*atomic.Int64)
	}
	seq := &atomic.Int64{}
	actual, _ := b.seqByRun.LoadOrStore(runID, seq)
	return actual.(*atomic.Int64)
}
