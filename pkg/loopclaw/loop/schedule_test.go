package loop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"every five minutes", "*/5 * * * *", false},
		{"weekday mornings", "0 9 * * 1-5", false},
		{"hourly descriptor", "@hourly", false},
		{"daily descriptor", "@daily", false},
		{"six fields rejected", "0 */5 * * * *", true},
		{"garbage", "not a cron", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseCron(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseCron(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestScheduledTaskNext(t *testing.T) {
	t.Parallel()

	task, err := newScheduledTask("*/5 * * * *")
	if err != nil {
		t.Fatalf("newScheduledTask: %v", err)
	}

	now := time.Date(2026, 3, 14, 9, 2, 30, 0, time.UTC)
	next := task.next(now)
	want := time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// From an exact boundary the next fire is strictly later.
	after := task.next(want)
	if !after.Equal(want.Add(5 * time.Minute)) {
		t.Errorf("next from boundary = %v, want %v", after, want.Add(5*time.Minute))
	}
}

func TestScheduledTaskFire(t *testing.T) {
	t.Parallel()

	task, err := newScheduledTask("@hourly")
	if err != nil {
		t.Fatalf("newScheduledTask: %v", err)
	}

	fired := make(chan struct{})
	now := time.Now()
	task.armAt(now.Add(10*time.Millisecond), now, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestScheduledTaskCancel(t *testing.T) {
	t.Parallel()

	task, err := newScheduledTask("@hourly")
	if err != nil {
		t.Fatalf("newScheduledTask: %v", err)
	}

	var fires atomic.Int32
	now := time.Now()
	task.armAt(now.Add(20*time.Millisecond), now, func() { fires.Add(1) })
	task.cancel()

	time.Sleep(100 * time.Millisecond)
	if fires.Load() != 0 {
		t.Error("callback fired after cancel")
	}

	// A cancelled task stays dead even if re-armed.
	task.armAt(now.Add(20*time.Millisecond), now, func() { fires.Add(1) })
	time.Sleep(100 * time.Millisecond)
	if fires.Load() != 0 {
		t.Error("callback fired on a cancelled task")
	}
}

func TestScheduledTaskRearmReplacesTimer(t *testing.T) {
	t.Parallel()

	task, err := newScheduledTask("@hourly")
	if err != nil {
		t.Fatalf("newScheduledTask: %v", err)
	}

	var first, second atomic.Int32
	now := time.Now()
	task.armAt(now.Add(30*time.Millisecond), now, func() { first.Add(1) })
	task.armAt(now.Add(60*time.Millisecond), now, func() { second.Add(1) })

	time.Sleep(200 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced timer still fired")
	}
	if second.Load() != 1 {
		t.Errorf("second timer fired %d times, want 1", second.Load())
	}
}
