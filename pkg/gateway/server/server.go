package server

import (
	"log/slog"
	"net/http"

	"github.com/aurora-labs/voxgate/pkg/gateway/config"
	"github.com/aurora-labs/voxgate/pkg/gateway/handlers"
	"github.com/aurora-labs/voxgate/pkg/gateway/lifecycle"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/sessions"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/turn"
	"github.com/aurora-labs/voxgate/pkg/gateway/mw"
	"github.com/aurora-labs/voxgate/pkg/gateway/ratelimit"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/store"
)

// Server wires the gateway's HTTP surface: the WebSocket Connection
// Acceptor mounted at "/" plus the plain REST endpoints a browser client
// needs around it (bootstrap, chat history, health, admin broadcast).
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	Verifier identity.Verifier
	Store    store.Store
	Pipeline *turn.Pipeline

	limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Tracker   *sessions.Tracker
	Registry  *sessions.Registry
}

// New constructs a Server. verifier, st, and pipeline are built by the
// caller (cmd/gateway/main.go) since each needs its own context-bound
// setup (JWKS client, DB pool, genai client).
func New(cfg config.Config, logger *slog.Logger, verifier identity.Verifier, st store.Store, pipeline *turn.Pipeline) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		Verifier: verifier,
		Store:    st,
		Pipeline: pipeline,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentStreams:  cfg.LimitMaxConcurrentStreams,
		}),
		Lifecycle: &lifecycle.Lifecycle{},
		Tracker:   sessions.NewTracker(),
		Registry:  sessions.NewRegistry(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/health", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg})

	// Any other /api/... path not matched by a route below falls through
	// to the gateway's JSON 404 envelope instead of a bare "/" WS upgrade
	// attempt.
	s.mux.Handle("/api/", handlers.NotFoundHandler{})

	bootstrap := handlers.ChatBootstrapHandler{
		Verifier: s.Verifier,
		Store:    s.Store,
		Logger:   s.logger,
	}
	s.mux.Handle("POST /api/chat/new", bootstrap)

	chatHistory := handlers.SessionsHandler{
		Verifier: s.Verifier,
		Store:    s.Store,
		Logger:   s.logger,
	}
	s.mux.HandleFunc("GET /api/chat/sessions", chatHistory.ListSessions)
	s.mux.HandleFunc("GET /api/chat/{id}/messages", chatHistory.Messages)

	admin := handlers.AdminNotifyHandler{
		Verifier: s.Verifier,
		Registry: s.Registry,
		Logger:   s.logger,
	}
	s.mux.Handle("POST /api/admin/notify", admin)

	// The Connection Acceptor is mounted at the root: browsers open the
	// WebSocket against the bare origin, per spec.
	live := handlers.LiveHandler{
		Config:    s.cfg,
		Verifier:  s.Verifier,
		Pipeline:  s.Pipeline,
		Store:     s.Store,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.Lifecycle,
		Tracker:   s.Tracker,
		Registry:  s.Registry,
	}
	s.mux.Handle("/", live)
}

// Handler returns the fully wrapped HTTP handler, middleware outermost to
// innermost: request ID, access log, panic recovery, CORS, auth, then
// rate limiting right before the route handlers run.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.Auth(s.cfg, s.Verifier, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
