package notify

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) Notify(kind, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, kind+": "+message)
	return n.err
}

func TestBusSubscribe(t *testing.T) {
	t.Parallel()

	bus := NewBus(testLogger())
	var mu sync.Mutex
	var got []Event
	unsubscribe := bus.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	bus.EmitRunStart("run-1", "conv-1", "hello")
	bus.EmitOutput("run-1", "conv-1", "line one")
	bus.EmitRunEnd("run-1", "conv-1", nil)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("events = %d, want 3", len(got))
	}
	if got[0].Stream != "lifecycle" || got[0].Type != "run_start" {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].Stream != "agent" || got[1].Type != "output" {
		t.Errorf("second event = %+v", got[1])
	}
	if got[2].Type != "run_end" {
		t.Errorf("third event = %+v", got[2])
	}

	// Seq increases monotonically within a run.
	if !(got[0].Seq < got[1].Seq && got[1].Seq < got[2].Seq) {
		t.Errorf("seq not monotonic: %d, %d, %d", got[0].Seq, got[1].Seq, got[2].Seq)
	}

	unsubscribe()
	bus.EmitOutput("run-2", "conv-1", "after unsubscribe")
	if len(got) != 3 {
		t.Error("listener invoked after unsubscribe")
	}
}

func TestBusBroadcast(t *testing.T) {
	t.Parallel()

	bus := NewBus(testLogger())
	first := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("webhook down")}
	second := &recordingNotifier{}
	bus.AddNotifier(first)
	bus.AddNotifier(failing)
	bus.AddNotifier(second)

	var mu sync.Mutex
	var streams []string
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		streams = append(streams, ev.Stream)
		mu.Unlock()
	})

	bus.Broadcast("loop_error", "run failed")

	// A failing notifier must not stop later ones.
	for i, n := range []*recordingNotifier{first, failing, second} {
		n.mu.Lock()
		calls := len(n.calls)
		n.mu.Unlock()
		if calls != 1 {
			t.Errorf("notifier %d calls = %d, want 1", i, calls)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(streams) != 1 || streams[0] != "error" {
		t.Errorf("streams = %v, want one error event", streams)
	}
}

func TestBusRunEndResetsSeq(t *testing.T) {
	t.Parallel()

	bus := NewBus(testLogger())
	var mu sync.Mutex
	var seqs []int64
	bus.Subscribe(func(ev Event) {
		mu.Lock()
		seqs = append(seqs, ev.Seq)
		mu.Unlock()
	})

	bus.EmitRunStart("run-1", "conv-1", "a")
	bus.EmitRunEnd("run-1", "conv-1", nil)
	// A recycled run ID starts its sequence over.
	bus.EmitRunStart("run-1", "conv-1", "b")

	mu.Lock()
	defer mu.Unlock()
	if seqs[2] != 1 {
		t.Errorf("seq after run end = %d, want 1", seqs[2])
	}
}
