// Package gateway – handlers.go implements the REST endpoints.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jholhewres/loopclaw/pkg/loopclaw/loop"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/store"
)

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// loopSummary is one row of the loop listing.
type loopSummary struct {
	ConversationID string       `json:"conversation_id"`
	Title          string       `json:"title,omitempty"`
	Workspace      string       `json:"workspace,omitempty"`
	Config         *loop.Config `json:"config,omitempty"`
	Status         loop.Status  `json:"status"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	g.writeJSON(w, 200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleListLoops implements GET /api/loops: every conversation that has a
// loop configured, with its persisted config and live status.
func (g *Gateway) handleListLoops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", 405)
		return
	}

	threads, err := g.store.List(r.Context())
	if err != nil {
		g.writeError(w, "listing conversations: "+err.Error(), 500)
		return
	}

	out := make([]loopSummary, 0)
	for _, md := range threads {
		if len(md.Loop) == 0 {
			continue
		}
		var cfg loop.Config
		if err := json.Unmarshal(md.Loop, &cfg); err != nil {
			g.logger.Warn("skipping unparseable loop config",
				"conversation_id", md.ConversationID, "error", err)
			continue
		}
		out = append(out, loopSummary{
			ConversationID: md.ConversationID,
			Title:          md.Title,
			Workspace:      md.Workspace,
			Config:         &cfg,
			Status:         g.manager.Status(md.ConversationID),
		})
	}
	g.writeJSON(w, 200, map[string]any{"loops": out})
}

// handleLoopByID routes /api/loops/{id}/{action}:
//
//	GET  /api/loops/{id}/config
//	PUT  /api/loops/{id}/config
//	POST /api/loops/{id}/start
//	POST /api/loops/{id}/stop
//	GET  /api/loops/{id}/status
func (g *Gateway) handleLoopByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/loops/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		g.writeError(w, "missing conversation id", 400)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "config" && r.Method == http.MethodGet:
		g.handleGetConfig(w, r, id)
	case action == "config" && r.Method == http.MethodPut:
		g.handleUpdateConfig(w, r, id)
	case action == "start" && r.Method == http.MethodPost:
		g.handleStart(w, r, id)
	case action == "stop" && r.Method == http.MethodPost:
		g.handleStop(w, r, id)
	case action == "status" && r.Method == http.MethodGet:
		g.handleStatus(w, r, id)
	case action == "config" || action == "start" || action == "stop" || action == "status":
		g.writeError(w, "method not allowed", 405)
	default:
		g.writeError(w, "not found", 404)
	}
}

func (g *Gateway) handleGetConfig(w http.ResponseWriter, r *http.Request, id string) {
	cfg, err := g.manager.GetConfig(r.Context(), id)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	if cfg == nil {
		g.writeError(w, "no loop configured for conversation "+id, 404)
		return
	}
	g.writeJSON(w, 200, cfg)
}

func (g *Gateway) handleUpdateConfig(w http.ResponseWriter, r *http.Request, id string) {
	var cfg loop.Config
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		g.writeError(w, "invalid loop config: "+err.Error(), 400)
		return
	}

	updated, err := g.manager.UpdateConfig(r.Context(), id, cfg)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.writeStoreError(w, err)
			return
		}
		g.writeError(w, err.Error(), 400)
		return
	}
	g.writeJSON(w, 200, updated)
}

func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request, id string) {
	cfg, err := g.manager.Start(r.Context(), id)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	g.writeJSON(w, 200, cfg)
}

func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request, id string) {
	cfg, err := g.manager.Stop(r.Context(), id)
	if err != nil {
		g.writeStoreError(w, err)
		return
	}
	g.writeJSON(w, 200, cfg)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := g.store.GetMetadata(r.Context(), id); err != nil {
		g.writeStoreError(w, err)
		return
	}
	g.writeJSON(w, 200, g.manager.Status(id))
}

// writeStoreError maps store and manager errors onto HTTP codes.
func (g *Gateway) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, loop.ErrNotConfigured) {
		g.writeError(w, err.Error(), 404)
		return
	}
	g.writeError(w, err.Error(), 500)
}
