// Package loop implements the per-conversation automation trigger engine:
// schedule, API-poll, and file-watch triggers feeding a merge-window event
// queue that drives at most one agent invocation at a time per conversation.
package loop

import (
	"fmt"
	"strings"
	"time"
)

// TriggerType identifies the trigger variant of a loop.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerAPI      TriggerType = "api"
	TriggerFile     TriggerType = "file"
)

// Op is the predicate applied to the value extracted by an API trigger.
type Op string

const (
	OpTruthy   Op = "truthy"
	OpEquals   Op = "equals"
	OpContains Op = "contains"
)

// Defaults applied by Normalize.
const (
	DefaultMergeWindowSec  = 300
	DefaultPreviewMaxLines = 200
	DefaultPreviewMaxBytes = 8192
	DefaultAPITimeoutMs    = 10000
)

// Trigger is the tagged union of trigger configurations. Type selects the
// variant; unrelated fields are left zero and omitted from JSON.
type Trigger struct {
	Type TriggerType `json:"type"`

	// Cron is the 5-field cron expression (schedule and api triggers).
	Cron string `json:"cron,omitempty"`

	// API trigger fields.
	URL       string            `json:"url,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	BodyJSON  string            `json:"bodyJson,omitempty"`
	JSONPath  string            `json:"jsonPath,omitempty"`
	Op        Op                `json:"op,omitempty"`
	Expected  string            `json:"expected,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`

	// File trigger fields.
	WatchPath       string   `json:"watchPath,omitempty"`
	Suffixes        []string `json:"suffixes,omitempty"`
	PreviewMaxLines int      `json:"previewMaxLines,omitempty"`
	PreviewMaxBytes int      `json:"previewMaxBytes,omitempty"`
}

// QueueConfig controls how bursts of trigger events are coalesced.
type QueueConfig struct {
	// Policy is always "strict": inside the merge window a pending event is
	// replaced, never appended.
	Policy string `json:"policy"`

	// MergeWindowSec is the coalescing window in seconds.
	MergeWindowSec int `json:"mergeWindowSec"`
}

// Config is the persisted per-conversation loop configuration. It is stored
// as the "loop" field inside the conversation's thread metadata and is the
// single source of truth for desired state; live runner state is a cache
// rebuildable from it.
type Config struct {
	Enabled         bool        `json:"enabled"`
	ContentTemplate string      `json:"contentTemplate"`
	Trigger         Trigger     `json:"trigger"`
	Queue           QueueConfig `json:"queue"`

	// LastRunAt is the completion time of the last successful run.
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`

	// LastError holds the most recent configuration, I/O, or execution
	// error. Cleared on successful runs and on Start.
	LastError string `json:"lastError,omitempty"`

	// NextRunAt is the next scheduled fire time. Non-nil exactly while the
	// loop is enabled with a schedule- or api-type trigger.
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
}

// Normalize fills defaults into a raw config so downstream components can
// assume required fields are present. Pure and idempotent.
func Normalize(cfg Config) Config {
	if cfg.Queue.Policy == "" {
		cfg.Queue.Policy = "strict"
	}
	if cfg.Queue.MergeWindowSec <= 0 {
		cfg.Queue.MergeWindowSec = DefaultMergeWindowSec
	}
	if cfg.Trigger.Type == TriggerFile {
		if cfg.Trigger.PreviewMaxLines <= 0 {
			cfg.Trigger.PreviewMaxLines = DefaultPreviewMaxLines
		}
		if cfg.Trigger.PreviewMaxBytes <= 0 {
			cfg.Trigger.PreviewMaxBytes = DefaultPreviewMaxBytes
		}
	}
	return cfg
}

// Validate checks structural validity of a config. Cron syntax and watch
// path accessibility are checked at runner start, not here, because both
// depend on the environment at arm time.
func Validate(cfg Config) error {
	switch cfg.Trigger.Type {
	case TriggerSchedule:
		if strings.TrimSpace(cfg.Trigger.Cron) == "" {
			return fmt.Errorf("schedule trigger requires a cron expression")
		}
	case TriggerAPI:
		if strings.TrimSpace(cfg.Trigger.Cron) == "" {
			return fmt.Errorf("api trigger requires a cron expression")
		}
		if strings.TrimSpace(cfg.Trigger.URL) == "" {
			return fmt.Errorf("api trigger requires a url")
		}
		switch cfg.Trigger.Op {
		case OpTruthy, OpEquals, OpContains, "":
		default:
			return fmt.Errorf("unknown api trigger op %q", cfg.Trigger.Op)
		}
	case TriggerFile:
		if strings.TrimSpace(cfg.Trigger.WatchPath) == "" {
			return fmt.Errorf("file trigger requires a watch path")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", cfg.Trigger.Type)
	}
	return nil
}

// mergeWindow returns the coalescing window as a duration.
func (c *Config) mergeWindow() time.Duration {
	return time.Duration(c.Queue.MergeWindowSec) * time.Second
}

// clone returns a deep copy safe to hand to callers.
func (c *Config) clone() *Config {
	out := *c
	if c.Trigger.Headers != nil {
		out.Trigger.Headers = make(map[string]string, len(c.Trigger.Headers))
		for k, v := range c.Trigger.Headers {
			out.Trigger.Headers[k] = v
		}
	}
	if c.Trigger.Suffixes != nil {
		out.Trigger.Suffixes = append([]string(nil), c.Trigger.Suffixes...)
	}
	if c.LastRunAt != nil {
		t := *c.LastRunAt
		out.LastRunAt = &t
	}
	if c.NextRunAt != nil {
		t := *c.NextRunAt
		out.NextRunAt = &t
	}
	return &out
}
