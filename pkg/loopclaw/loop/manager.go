// Package loop – manager.go implements the runner registry and the five
// control operations: getConfig, updateConfig, start, stop, status. The
// registry (conversation → runner) is the only mutable shared state; it is
// mutated exclusively through these methods.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jholhewres/loopclaw/pkg/loopclaw/agent"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/notify"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/store"
)

// ErrNotConfigured is returned by Start and Stop when the conversation has
// no loop configuration.
var ErrNotConfigured = errors.New("loop not configured")

// SecretResolver resolves secret references (keyring:NAME, vault:NAME,
// ${ENV}) in API trigger header values.
type SecretResolver interface {
	Resolve(value string) (string, error)
}

// Status is the live execution state of one conversation's loop.
type Status struct {
	Running     bool `json:"running"`
	QueueLength int  `json:"queue_length"`
}

// Manager owns the runner registry and drives all trigger machinery.
type Manager struct {
	store   store.ThreadStore
	exec    agent.Executor
	bus     *notify.Bus
	secrets SecretResolver
	logger  *slog.Logger
	http    *http.Client
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	runners map[string]*runner
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a time source. Tests use this to make merge-window
// behavior deterministic.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHTTPClient overrides the poll HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.http = c }
}

// WithSecretResolver enables secret references in API trigger headers.
func WithSecretResolver(r SecretResolver) Option {
	return func(m *Manager) { m.secrets = r }
}

// NewManager creates the loop manager. Call DisableAll before exposing the
// control surface, and Shutdown on process exit.
func NewManager(st store.ThreadStore, exec agent.Executor, bus *notify.Bus, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:   st,
		exec:    exec,
		bus:     bus,
		logger:  logger.With("component", "loop"),
		http:    &http.Client{},
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		runners: make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetConfig returns the persisted loop config for a conversation, or nil
// when none is configured.
func (m *Manager) GetConfig(ctx context.Context, conversationID string) (*Config, error) {
	return m.loadConfig(ctx, conversationID)
}

// UpdateConfig normalizes and persists a new configuration, then reconciles
// the live runner with a full stop-then-restart when the loop is enabled.
func (m *Manager) UpdateConfig(ctx context.Context, conversationID string, cfg Config) (*Config, error) {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	// Engine-managed status fields carry over; nextRunAt is recomputed when
	// the runner (re)arms.
	prior, err := m.loadConfig(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		cfg.LastRunAt = prior.LastRunAt
	}
	cfg.NextRunAt = nil

	if err := m.persistLoopCtx(ctx, conversationID, &cfg); err != nil {
		return nil, err
	}

	m.stopRunner(conversationID)
	if cfg.Enabled {
		m.startRunner(conversationID, &cfg)
	}
	return m.loadConfig(ctx, conversationID)
}

// Start enables the loop. Requires an existing configuration.
func (m *Manager) Start(ctx context.Context, conversationID string) (*Config, error) {
	cfg, err := m.loadConfig(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotConfigured)
	}

	cfg.Enabled = true
	cfg.LastError = ""
	cfg.NextRunAt = nil
	if err := m.persistLoopCtx(ctx, conversationID, cfg); err != nil {
		return nil, err
	}

	m.stopRunner(conversationID)
	m.startRunner(conversationID, cfg)
	return m.loadConfig(ctx, conversationID)
}

// Stop disables the loop, aborts any in-flight run, and drops the queue.
func (m *Manager) Stop(ctx context.Context, conversationID string) (*Config, error) {
	cfg, err := m.loadConfig(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, ErrNotConfigured)
	}

	cfg.Enabled = false
	cfg.NextRunAt = nil
	if err := m.persistLoopCtx(ctx, conversationID, cfg); err != nil {
		return nil, err
	}

	m.stopRunner(conversationID)
	return cfg, nil
}

// Status reports the live state of a conversation's runner. A conversation
// without a live runner reports not-running with an empty queue.
func (m *Manager) Status(conversationID string) Status {
	m.mu.Lock()
	r, ok := m.runners[conversationID]
	m.mu.Unlock()
	if !ok {
		return Status{}
	}
	return r.status()
}

// ConversationDeleted tears down the runner of a deleted conversation.
func (m *Manager) ConversationDeleted(conversationID string) {
	m.stopRunner(conversationID)
}

// DisableAll forces every persisted loop config to enabled=false. Runs at
// process startup: the scheduler never resumes automatically across
// restarts.
func (m *Manager) DisableAll(ctx context.Context) error {
	threads, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	for _, md := range threads {
		if len(md.Loop) == 0 {
			continue
		}
		var cfg Config
		if err := json.Unmarshal(md.Loop, &cfg); err != nil {
			m.logger.Warn("skipping unparseable loop config",
				"conversation_id", md.ConversationID, "error", err)
			continue
		}
		if !cfg.Enabled && cfg.NextRunAt == nil {
			continue
		}
		cfg.Enabled = false
		cfg.NextRunAt = nil
		if err := m.persistLoopCtx(ctx, md.ConversationID, &cfg); err != nil {
			m.logger.Error("failed to disable loop at startup",
				"conversation_id", md.ConversationID, "error", err)
		}
	}
	return nil
}

// Shutdown tears down every runner and cancels all in-flight runs.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	runners := make([]*runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.runners = make(map[string]*runner)
	m.mu.Unlock()

	for _, r := range runners {
		r.teardown()
	}
	m.cancel()
	m.logger.Info("loop manager stopped", "runners", len(runners))
}

// ---------- Internal ----------

// startRunner creates and arms a runner for an enabled config. Validation
// failures (bad cron, bad watch path) are recorded as lastError and the
// trigger never arms — terminal until reconfigured.
func (m *Manager) startRunner(conversationID string, cfg *Config) {
	r := &runner{conversationID: conversationID, cfg: cfg.clone()}

	m.mu.Lock()
	m.runners[conversationID] = r
	m.mu.Unlock()

	switch cfg.Trigger.Type {
	case TriggerSchedule, TriggerAPI:
		task, err := newScheduledTask(cfg.Trigger.Cron)
		if err != nil {
			m.recordValidation(r, err)
			return
		}
		r.task = task
		m.armNext(r)

	case TriggerFile:
		workspace, err := m.workspace(conversationID)
		if err != nil {
			m.recordValidation(r, err)
			return
		}
		root, err := validateWatchPath(cfg.Trigger.WatchPath, workspace)
		if err != nil {
			m.recordValidation(r, err)
			return
		}
		watcher, err := newFileWatcher(root, r.cfg.Trigger, m.logger, func(c FileCandidate) {
			m.enqueue(r, Event{
				Type:    TriggerFile,
				At:      m.now(),
				Path:    c.Path,
				Preview: c.Preview,
				Size:    c.Size,
			})
		})
		if err != nil {
			m.recordValidation(r, err)
			return
		}
		r.watcher = watcher

	default:
		m.recordValidation(r, fmt.Errorf("unknown trigger type %q", cfg.Trigger.Type))
	}
}

// stopRunner removes a runner from the registry and tears it down.
// Idempotent; safe when no runner exists.
func (m *Manager) stopRunner(conversationID string) {
	m.mu.Lock()
	r, ok := m.runners[conversationID]
	if ok {
		delete(m.runners, conversationID)
	}
	m.mu.Unlock()
	if ok {
		r.teardown()
		m.logger.Info("loop runner stopped", "conversation_id", conversationID)
	}
}

// armNext computes the next fire time, persists it, and arms the one-shot
// timer. The timer re-arms itself after each fire.
func (m *Manager) armNext(r *runner) {
	r.mu.Lock()
	if r.stopped || !r.cfg.Enabled || r.task == nil {
		r.mu.Unlock()
		return
	}
	now := m.now()
	next := r.task.next(now)
	r.cfg.NextRunAt = &next
	snapshot := r.cfg.clone()
	task := r.task
	r.mu.Unlock()

	m.persistLoop(r.conversationID, snapshot)
	m.logger.Debug("loop tick armed",
		"conversation_id", r.conversationID, "next_run_at", next.Format(time.RFC3339))

	task.armAt(next, now, func() { m.fire(r) })
}

// fire handles one schedule tick: enqueue (schedule) or poll (api), then
// immediately recompute and re-arm. Ticks that would have fired while the
// poll was executing are skipped, not queued.
func (m *Manager) fire(r *runner) {
	r.mu.Lock()
	if r.stopped || !r.cfg.Enabled {
		r.mu.Unlock()
		return
	}
	triggerType := r.cfg.Trigger.Type
	r.mu.Unlock()

	switch triggerType {
	case TriggerAPI:
		m.poll(r)
	default:
		m.enqueue(r, Event{Type: TriggerSchedule, At: m.now()})
	}

	m.armNext(r)
}

// recordValidation records a configuration error on the runner and persists
// it. The trigger stays unarmed until the configuration changes.
func (m *Manager) recordValidation(r *runner, err error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.cfg.LastError = err.Error()
	r.cfg.NextRunAt = nil
	snapshot := r.cfg.clone()
	r.mu.Unlock()

	m.persistLoop(r.conversationID, snapshot)
	m.logger.Warn("loop trigger validation failed",
		"conversation_id", r.conversationID, "error", err)
}

// recordTransient records a runtime error for one attempt. The driver keeps
// operating and retries on the next natural occurrence.
func (m *Manager) recordTransient(r *runner, err error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.cfg.LastError = err.Error()
	snapshot := r.cfg.clone()
	r.mu.Unlock()

	m.persistLoop(r.conversationID, snapshot)
	m.logger.Warn("loop trigger attempt failed",
		"conversation_id", r.conversationID, "error", err)
}

// loadConfig reads the loop field from thread metadata. Returns nil when
// the conversation exists but has no loop configured.
func (m *Manager) loadConfig(ctx context.Context, conversationID string) (*Config, error) {
	md, err := m.store.GetMetadata(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(md.Loop) == 0 {
		return nil, nil
	}
	var cfg Config
	if err := json.Unmarshal(md.Loop, &cfg); err != nil {
		return nil, fmt.Errorf("parsing loop config for %s: %w", conversationID, err)
	}
	return &cfg, nil
}

// persistLoopCtx writes the loop config into thread metadata.
func (m *Manager) persistLoopCtx(ctx context.Context, conversationID string, cfg *Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling loop config: %w", err)
	}
	if _, err := m.store.UpdateMetadata(ctx, conversationID, store.Patch{Loop: raw}); err != nil {
		return fmt.Errorf("persisting loop config for %s: %w", conversationID, err)
	}
	return nil
}

// persistLoop is persistLoopCtx for internal callers that outlive request
// contexts (timers, watchers, run completion). Failures are logged: status
// persistence must never take down a runner.
func (m *Manager) persistLoop(conversationID string, cfg *Config) {
	if err := m.persistLoopCtx(context.Background(), conversationID, cfg); err != nil {
		m.logger.Error("failed to persist loop status",
			"conversation_id", conversationID, "error", err)
	}
}

// workspace resolves the conversation's workspace path.
func (m *Manager) workspace(conversationID string) (string, error) {
	md, err := m.store.GetMetadata(context.Background(), conversationID)
	if err != nil {
		return "", fmt.Errorf("loading conversation metadata: %w", err)
	}
	return md.Workspace, nil
}
