package httpx

import (
	"net/http"

	"log/slog"

	"github.com/chahit025/CodeCollab/internal/app"
	"github.com/chahit025/CodeCollab/internal/ws"
	"github.com/chahit025/CodeCollab/pkg/metrics"
)

// NewRouter wires the ops endpoints and the websocket upgrade behind the
// shared middleware stack
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub) http.Handler {
	mw := NewMiddleware(cfg)

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint, optionally token-gated
	mux.Handle("/ws", mw.WSGate(http.HandlerFunc(hub.ServeWS)))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
