package loop

import (
	"strings"
	"testing"
	"time"
)

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	vars := map[string]string{
		"trigger.type": "api",
		"value":        "in_progress",
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"plain text untouched", "check the build", "check the build"},
		{"simple token", "state: {{ value }}", "state: in_progress"},
		{"dotted token", "via {{ trigger.type }}", "via api"},
		{"no inner whitespace", "{{value}}", "in_progress"},
		{"extra whitespace", "{{   value   }}", "in_progress"},
		{"unknown token renders empty", "x{{ missing }}y", "xy"},
		{"repeated token", "{{ value }}/{{ value }}", "in_progress/in_progress"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := renderTemplate(tt.tmpl, vars); got != tt.want {
				t.Errorf("renderTemplate(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestEventVars(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	t.Run("schedule", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{Trigger: Trigger{Type: TriggerSchedule, Cron: "*/5 * * * *"}}
		vars := eventVars(cfg, Event{Type: TriggerSchedule, At: at})
		if vars["trigger.type"] != "schedule" {
			t.Errorf("trigger.type = %q", vars["trigger.type"])
		}
		if vars["cron"] != "*/5 * * * *" {
			t.Errorf("cron = %q", vars["cron"])
		}
		if vars["time"] != "2026-03-14 09:26:53" {
			t.Errorf("time = %q", vars["time"])
		}
	})

	t.Run("api", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{Trigger: Trigger{Type: TriggerAPI, Cron: "@hourly", URL: "https://ci.example/status"}}
		ev := Event{Type: TriggerAPI, At: at, Response: `{"ok":true}`, Value: "true", HTTPStatus: 200}
		vars := eventVars(cfg, ev)
		if vars["url"] != "https://ci.example/status" {
			t.Errorf("url = %q", vars["url"])
		}
		if vars["status"] != "200" {
			t.Errorf("status = %q", vars["status"])
		}
		if vars["response"] != `{"ok":true}` || vars["value"] != "true" {
			t.Errorf("response/value = %q / %q", vars["response"], vars["value"])
		}
	})

	t.Run("api response is capped", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{Trigger: Trigger{Type: TriggerAPI}}
		ev := Event{Type: TriggerAPI, At: at, Response: strings.Repeat("x", maxResponseVarLen+100)}
		vars := eventVars(cfg, ev)
		if len(vars["response"]) > maxResponseVarLen+len("…") {
			t.Errorf("response not capped: %d bytes", len(vars["response"]))
		}
	})

	t.Run("file", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{Trigger: Trigger{Type: TriggerFile, WatchPath: "inbox"}}
		ev := Event{Type: TriggerFile, At: at, Path: "/ws/inbox/report.md", Preview: "# Report", Size: 512}
		vars := eventVars(cfg, ev)
		if vars["path"] != "/ws/inbox/report.md" || vars["preview"] != "# Report" || vars["size"] != "512" {
			t.Errorf("file vars = %v", vars)
		}
	})
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	marker := "[Loop Trigger @2026-03-14 09:30:00]"

	t.Run("marker plus body", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{
			ContentTemplate: "Check CI ({{ trigger.type }})",
			Trigger:         Trigger{Type: TriggerSchedule, Cron: "@hourly"},
		}
		got := buildMessage(cfg, Event{Type: TriggerSchedule, At: now}, now)
		want := marker + "\nCheck CI (schedule)"
		if got != want {
			t.Errorf("buildMessage = %q, want %q", got, want)
		}
	})

	t.Run("empty template yields marker only", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{Trigger: Trigger{Type: TriggerSchedule}}
		if got := buildMessage(cfg, Event{Type: TriggerSchedule, At: now}, now); got != marker {
			t.Errorf("buildMessage = %q, want %q", got, marker)
		}
	})

	t.Run("whitespace-only render yields marker only", func(t *testing.T) {
		t.Parallel()
		cfg := &Config{ContentTemplate: "  {{ unknown }}  ", Trigger: Trigger{Type: TriggerSchedule}}
		if got := buildMessage(cfg, Event{Type: TriggerSchedule, At: now}, now); got != marker {
			t.Errorf("buildMessage = %q, want %q", got, marker)
		}
	})
}
