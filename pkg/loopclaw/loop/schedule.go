// Package loop – schedule.go owns the "next tick" timer for schedule- and
// api-type triggers. Uses robfig/cron for expression parsing. Each tick is a
// self-perpetuating one-shot timer rather than a fixed-period interval: the
// next fire is computed only after the previous one dispatched, so slow runs
// cause skipped ticks instead of drift or pile-up.
package loop

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus @descriptors
// (@hourly, @daily, ...), matching the scheduler's accepted syntax.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// parseCron parses a cron expression. A failure here is a configuration
// error: the trigger never arms until reconfigured.
func parseCron(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// scheduledTask is an explicit timer handle stored in the runner. Cancel is
// idempotent and safe to race with a pending fire: a cancelled task never
// invokes its callback again.
type scheduledTask struct {
	schedule cron.Schedule

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

func newScheduledTask(spec string) (*scheduledTask, error) {
	sched, err := parseCron(spec)
	if err != nil {
		return nil, err
	}
	return &scheduledTask{schedule: sched}, nil
}

// next computes the fire time strictly after now.
func (t *scheduledTask) next(now time.Time) time.Time {
	return t.schedule.Next(now)
}

// armAt arms a one-shot timer that calls fire at the given time. Re-arming
// replaces any pending timer.
func (t *scheduledTask) armAt(at, now time.Time, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delay := at.Sub(now)
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		dead := t.cancelled
		t.mu.Unlock()
		if dead {
			return
		}
		fire()
	})
}

// cancel stops the timer permanently. The task cannot be re-armed.
func (t *scheduledTask) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
