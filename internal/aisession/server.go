package aisession

import (
	"log/slog"
	"net/http"

	"github.com/voiceagent/broker/internal/asp"
)

// Handler accepts incoming ASP websocket connections and runs one Session
// per connection until it ends. It is mounted at the broker's ASP endpoint
// (cmd/voiceagent) alongside the chi router's /metrics and /healthz routes.
type Handler struct {
	providers Providers
	cfg       Config
	logger    *slog.Logger
}

// NewHandler creates a Handler serving sessions backed by providers and cfg.
func NewHandler(providers Providers, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{providers: providers, cfg: cfg, logger: logger}
}

// ServeHTTP implements http.Handler, upgrading the request to an ASP
// connection and running its session synchronously for the life of the
// request (the websocket library keeps the underlying connection open
// until Session.Run returns).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := asp.Upgrade(w, r)
	if err != nil {
		h.logger.Error("asp upgrade failed", "error", err)
		return
	}

	sess := New(conn, h.providers, h.cfg, h.logger)
	if err := sess.Run(r.Context()); err != nil {
		h.logger.Info("ai session ended", "error", err)
	}
}
