package httpx

import (
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/chahit025/CodeCollab/internal/app"
	"github.com/chahit025/CodeCollab/pkg/auth"
	"github.com/chahit025/CodeCollab/pkg/ratelimit"
)

type Middleware struct {
	cors    *cors.Cors
	auth    *auth.JWT
	rlimit  *ratelimit.Limiter
	gatedWS bool
}

// NewMiddleware builds the shared middleware stack from config
func NewMiddleware(cfg app.Config) *Middleware {
	return &Middleware{
		cors: cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSAllow,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}),
		auth:    auth.New(cfg.JWTSecret),
		rlimit:  ratelimit.New(60, time.Minute), // 60 req/min per IP
		gatedWS: cfg.WSRequireAuth,
	}
}

// Wrap applies CORS + rate limiting to a handler
func (m *Middleware) Wrap(h http.Handler) http.Handler {
	return m.cors.Handler(m.rlimit.Middleware(h))
}

// WSGate optionally demands a valid token (issued by the external auth
// service) on the upgrade request. Browsers cannot set headers on a
// websocket handshake, so the token rides the query string. Join-time
// username/isHost stay client-supplied either way; this gate only keeps
// anonymous sockets out of a locked-down deployment.
func (m *Middleware) WSGate(next http.Handler) http.Handler {
	if !m.gatedWS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		if tok == "" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		username, err := m.auth.Verify(tok)
		if err != nil {
			http.Error(w, "bad token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), username)))
	})
}
