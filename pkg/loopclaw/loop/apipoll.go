// Package loop – apipoll.go performs one API trigger poll: HTTP request,
// JSON body extraction, predicate evaluation, and event emission on match.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxPollBody caps how much of a poll response is read and retained.
const maxPollBody = 1 << 20

// poll executes one API poll attempt for the runner. Transport failures and
// non-JSON bodies are transient: recorded in lastError, retried on the next
// tick. A malformed jsonPath is a configuration defect and is recorded the
// same way, surfacing until the config is fixed.
func (m *Manager) poll(r *runner) {
	r.mu.Lock()
	if r.stopped || !r.cfg.Enabled {
		r.mu.Unlock()
		return
	}
	trigger := r.cfg.Trigger
	r.mu.Unlock()

	body, status, err := m.fetch(trigger)
	if err != nil {
		m.recordTransient(r, err)
		return
	}

	matched, value, err := m.evaluate(trigger, body)
	if err != nil {
		m.recordTransient(r, err)
		return
	}
	if !matched {
		m.logger.Debug("api poll predicate not satisfied",
			"conversation_id", r.conversationID, "url", trigger.URL)
		return
	}

	m.enqueue(r, Event{
		Type:       TriggerAPI,
		At:         m.now(),
		Response:   string(body),
		Value:      value,
		HTTPStatus: status,
	})
}

// fetch performs the HTTP request described by the trigger and returns the
// (size-capped) response body and status code.
func (m *Manager) fetch(trigger Trigger) ([]byte, int, error) {
	timeout := time.Duration(trigger.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(DefaultAPITimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	method := strings.ToUpper(trigger.Method)
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if len(trigger.BodyJSON) > 0 {
		reqBody = strings.NewReader(trigger.BodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, trigger.URL, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("building poll request: %w", err)
	}
	for name, value := range trigger.Headers {
		resolved, err := m.resolveHeader(value)
		if err != nil {
			return nil, 0, fmt.Errorf("resolving header %s: %w", name, err)
		}
		req.Header.Set(name, resolved)
	}
	if reqBody != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("polling %s: %w", trigger.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPollBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading poll response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// evaluate extracts the configured path from the response body and applies
// the predicate. An absent value never matches but is not an error.
func (m *Manager) evaluate(trigger Trigger, body []byte) (bool, string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false, "", fmt.Errorf("poll response is not valid JSON: %w", err)
	}

	value, found, err := lookupPath(doc, trigger.JSONPath)
	if err != nil {
		return false, "", fmt.Errorf("jsonPath %q: %w", trigger.JSONPath, err)
	}

	matched := evalPredicate(trigger.Op, value, found, trigger.Expected)
	if !found {
		return matched, "", nil
	}
	return matched, stringify(value), nil
}

// resolveHeader expands a secret reference in a header value. Without a
// resolver the value passes through verbatim.
func (m *Manager) resolveHeader(value string) (string, error) {
	if m.secrets == nil {
		return value, nil
	}
	return m.secrets.Resolve(value)
}
