// Package loop – runner.go holds the live per-conversation runner state and
// the event queue / run executor: merge-window coalescing on enqueue,
// single-flight execution, and post-run draining.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/loopclaw/pkg/loopclaw/agent"
)

// runner is the in-memory state machine for one conversation's loop. It is
// a disposable cache: everything here is rebuildable from the persisted
// Config. Mutated only through the Manager.
type runner struct {
	conversationID string

	mu            sync.Mutex
	cfg           *Config
	queue         []Event
	lastEnqueueAt time.Time
	running       bool
	stopped       bool
	cancelRun     context.CancelFunc

	task    *scheduledTask
	watcher *fileWatcher
}

// enqueue applies the merge-window policy and kicks a drain attempt.
// Events arriving on a disabled or stopped runner are dropped silently —
// a deliberate no-op, distinct from a recorded error.
func (m *Manager) enqueue(r *runner, ev Event) {
	r.mu.Lock()
	if r.stopped || !r.cfg.Enabled {
		r.mu.Unlock()
		m.logger.Debug("dropping event for disabled loop",
			"conversation_id", r.conversationID, "trigger", ev.Type)
		return
	}

	now := m.now()
	// Inside the merge window an existing pending slot is replaced with the
	// newer observation; an empty queue is pushed to even mid-window. This
	// asymmetry caps the queue at one pending event per window group while a
	// run is in flight.
	if !r.lastEnqueueAt.IsZero() &&
		now.Sub(r.lastEnqueueAt) < r.cfg.mergeWindow() &&
		len(r.queue) > 0 {
		r.queue[len(r.queue)-1] = ev
	} else {
		r.queue = append(r.queue, ev)
	}
	r.lastEnqueueAt = now
	r.mu.Unlock()

	go m.runNext(r)
}

// runNext pops and executes the front event unless a run is already in
// flight. After the run — success or failure — it drains any events queued
// meanwhile.
func (m *Manager) runNext(r *runner) {
	r.mu.Lock()
	if r.stopped || r.running || len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	ev := r.queue[0]
	r.queue = r.queue[1:]
	r.running = true
	runCtx, cancel := context.WithCancel(m.ctx)
	r.cancelRun = cancel
	cfg := r.cfg.clone()
	r.mu.Unlock()

	runErr := m.executeRun(runCtx, r.conversationID, cfg, ev)
	cancel()

	r.mu.Lock()
	completed := m.now()
	if runErr != nil {
		r.cfg.LastError = runErr.Error()
	} else {
		r.cfg.LastRunAt = &completed
		r.cfg.LastError = ""
	}
	r.running = false
	r.cancelRun = nil
	stopped := r.stopped
	snapshot := r.cfg.clone()
	more := len(r.queue) > 0
	r.mu.Unlock()

	if !stopped {
		m.persistLoop(r.conversationID, snapshot)
	}

	if runErr != nil {
		m.logger.Error("loop run failed",
			"conversation_id", r.conversationID, "error", runErr)
		m.bus.Broadcast("loop_error",
			fmt.Sprintf("Loop run failed for conversation %s: %v", r.conversationID, runErr))
	}

	// Events that arrived during the run are not lost and are not merged
	// with the one just processed.
	if more {
		m.runNext(r)
	}
}

// executeRun renders the message, resolves the workspace, and invokes the
// agent with approvals disabled.
func (m *Manager) executeRun(ctx context.Context, conversationID string, cfg *Config, ev Event) error {
	md, err := m.store.GetMetadata(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("loading conversation metadata: %w", err)
	}
	if md.Workspace == "" {
		return fmt.Errorf("no workspace configured for conversation %s", conversationID)
	}

	runID := uuid.NewString()
	message := buildMessage(cfg, ev, m.now())

	m.bus.EmitRunStart(runID, conversationID, message)
	runErr := m.exec.Run(ctx, agent.RunRequest{
		RunID:            runID,
		ConversationID:   conversationID,
		Workspace:        md.Workspace,
		Message:          message,
		DisableApprovals: true,
		OnOutput: func(line string) {
			m.bus.EmitOutput(runID, conversationID, line)
		},
	})
	m.bus.EmitRunEnd(runID, conversationID, runErr)
	return runErr
}

// teardown stops all live resources of a runner: timer, watcher, in-flight
// run, and queued events. A stopped runner has no memory of pending events.
func (r *runner) teardown() {
	if r.task != nil {
		r.task.cancel()
	}
	if r.watcher != nil {
		r.watcher.close()
	}
	r.mu.Lock()
	r.stopped = true
	r.queue = nil
	r.lastEnqueueAt = time.Time{}
	if r.cancelRun != nil {
		r.cancelRun()
		r.cancelRun = nil
	}
	r.mu.Unlock()
}

// status reports the live execution state.
func (r *runner) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.running, QueueLength: len(r.queue)}
}
