package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurora-labs/voxgate/pkg/core"
	"github.com/aurora-labs/voxgate/pkg/gateway/apierror"
	"github.com/aurora-labs/voxgate/pkg/gateway/config"
	"github.com/aurora-labs/voxgate/pkg/gateway/lifecycle"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/session"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/sessions"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/turn"
	"github.com/aurora-labs/voxgate/pkg/gateway/mw"
	"github.com/aurora-labs/voxgate/pkg/gateway/ratelimit"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/store"
)

// LiveHandler accepts the gateway's single WebSocket endpoint (the
// Connection Acceptor), mounted at "/". Browsers cannot set a bearer
// header on a WebSocket handshake, so the token travels as the "token"
// query parameter instead. A missing or invalid token only fails the
// upgrade when RequireAuth is set; otherwise the connection is accepted
// unauthenticated. An in-band "auth" frame can authenticate it later; a
// "user_info" frame only sets the user id of a connection that is not yet
// authenticated and does not authenticate it.
type LiveHandler struct {
	Config    config.Config
	Verifier  identity.Verifier
	Pipeline  *turn.Pipeline
	Store     store.Store
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Tracker   *sessions.Tracker
	Registry  *sessions.Registry
}

var upgrader = websocket.Upgrader{
	// Origin is enforced explicitly below so it can be reported as a
	// normal JSON error rather than a bare handshake failure.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodGet {
		writeLiveError(w, http.StatusMethodNotAllowed, core.ErrInvalidRequest, "method not allowed", reqID)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeLiveError(w, 529, core.ErrOverloaded, "gateway is draining", reqID)
		return
	}
	if !h.originAllowed(r) {
		writeLiveError(w, http.StatusForbidden, core.ErrPermission, "origin is not allowed", reqID)
		return
	}

	initialIdentity, authenticated := h.resolveIdentity(r)
	if h.Config.RequireAuth && !authenticated {
		writeLiveError(w, http.StatusUnauthorized, core.ErrAuthentication, "missing or invalid token", reqID)
		return
	}

	principalKey := "anonymous"
	if authenticated {
		principalKey = ratelimit.PrincipalKeyFromUserID(initialIdentity.UserID)
	}
	if h.Limiter != nil {
		dec := h.Limiter.AcquireStream(principalKey, time.Now())
		if !dec.Allowed {
			writeLiveError(w, http.StatusTooManyRequests, core.ErrRateLimit, "too many concurrent connections", reqID)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := session.NewConnectionID()
	sessLogger := logger.With("session_id", sessionID, "request_id", reqID)

	sessCfg := session.Config{
		PingInterval:             h.Config.PingInterval,
		WriteTimeout:             h.Config.WriteTimeout,
		ReadTimeout:              h.Config.ReadTimeout,
		RequireAuth:              h.Config.RequireAuth,
		NormalQueueHighWaterMark: h.Config.NormalQueueHighWaterMark,
		AudioFPS:                 h.Config.AudioMaxFPS,
		AudioBPS:                 h.Config.AudioMaxBytesPerSecond,
		AudioBurstSeconds:        h.Config.AudioBurstSeconds,
	}

	sess := session.New(sessionID, conn, sessCfg, h.Verifier, h.Pipeline, h.Store, sessLogger, initialIdentity, authenticated)
	if h.Registry != nil {
		sess.BindRegistry(h.Registry.Add)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.Tracker != nil {
		unregister := h.Tracker.Register(sessionID, sessions.Handle{Cancel: cancel, Warn: sess.Warn})
		defer unregister()
	}

	if err := sess.Run(ctx); err != nil {
		sessLogger.Debug("live: session ended", "error", err)
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// resolveIdentity verifies the "token" query parameter, per spec: a
// WebSocket handshake cannot carry a custom Authorization header, so the
// token travels in the URL instead.
func (h LiveHandler) resolveIdentity(r *http.Request) (identity.Identity, bool) {
	if h.Verifier == nil {
		return identity.Identity{}, false
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		return identity.Identity{}, false
	}
	id, err := h.Verifier.Verify(r.Context(), token)
	if err != nil {
		return identity.Identity{}, false
	}
	return id, true
}

func writeLiveError(w http.ResponseWriter, status int, errType core.ErrorType, message, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: &core.Error{
		Type:      errType,
		Message:   message,
		RequestID: requestID,
	}})
}
