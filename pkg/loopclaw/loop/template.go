// Package loop – template.go renders the user-authored message template
// into the prompt sent to the agent.
package loop

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Length caps for template variables derived from API responses, so a large
// payload cannot blow up the rendered prompt.
const (
	maxResponseVarLen = 2000
	maxValueVarLen    = 500
)

// tokenPattern matches {{ name }} with whitespace-tolerant delimiters.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// renderTemplate substitutes every {{ name }} token with the matching value
// from vars. Unknown names substitute to the empty string.
func renderTemplate(tmpl string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		return vars[name]
	})
}

// eventVars builds the variable map for one trigger event.
func eventVars(cfg *Config, ev Event) map[string]string {
	vars := map[string]string{
		"trigger.type": string(ev.Type),
		"time":         ev.At.Format("2006-01-02 15:04:05"),
	}
	switch ev.Type {
	case TriggerSchedule:
		vars["cron"] = cfg.Trigger.Cron
	case TriggerAPI:
		vars["cron"] = cfg.Trigger.Cron
		vars["url"] = cfg.Trigger.URL
		vars["status"] = strconv.Itoa(ev.HTTPStatus)
		vars["response"] = capString(ev.Response, maxResponseVarLen)
		vars["value"] = capString(ev.Value, maxValueVarLen)
	case TriggerFile:
		vars["path"] = ev.Path
		vars["preview"] = ev.Preview
		vars["size"] = strconv.FormatInt(ev.Size, 10)
	}
	return vars
}

// buildMessage produces the agent prompt for one run: a fixed marker line
// followed by the rendered template, or just the marker when the template
// is empty or renders empty.
func buildMessage(cfg *Config, ev Event, now time.Time) string {
	marker := fmt.Sprintf("[Loop Trigger @%s]", now.Local().Format("2006-01-02 15:04:05"))
	body := strings.TrimSpace(renderTemplate(cfg.ContentTemplate, eventVars(cfg, ev)))
	if body == "" {
		return marker
	}
	return marker + "\n" + body
}

func capString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
