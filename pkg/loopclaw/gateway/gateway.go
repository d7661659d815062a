// Package gateway provides the HTTP control surface for LoopClaw: loop
// configuration, start/stop, and live status per conversation.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/loopclaw/pkg/loopclaw/config"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/loop"
	"github.com/jholhewres/loopclaw/pkg/loopclaw/store"
)

// Gateway is the HTTP API server.
type Gateway struct {
	manager   *loop.Manager
	store     store.ThreadStore
	config    config.GatewayConfig
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a gateway.
func New(manager *loop.Manager, st store.ThreadStore, cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8077"
	}
	return &Gateway{
		manager: manager,
		store:   st,
		config:  cfg,
		logger:  logger.With("component", "gateway"),
	}
}

// routes assembles the full handler chain.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health (always public)
	mux.HandleFunc("/health", g.handleHealth)

	// API routes
	mux.HandleFunc("/api/loops", g.handleListLoops)
	mux.HandleFunc("/api/loops/", g.handleLoopByID)

	return g.securityHeadersMiddleware(g.authMiddleware(mux))
}

// Start starts the HTTP server in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:    g.config.Address,
		Handler: g.routes(),
	}

	// Warn when no auth token is set on a non-loopback bind.
	if g.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.config.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address — anyone on the network can control loops",
				"address", g.config.Address)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.config.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

// securityHeadersMiddleware adds standard security headers to all responses.
func (g *Gateway) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
