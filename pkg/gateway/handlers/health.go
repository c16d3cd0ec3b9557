package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aurora-labs/voxgate/pkg/gateway/config"
)

// HealthHandler backs GET /api/health: a liveness probe with no dependency
// checks, so it stays cheap and reliable even when a downstream is unhealthy.
type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Healthy"))
}

// ReadyHandler reports whether the loaded configuration is internally
// consistent, for use by an orchestrator's readiness probe.
type ReadyHandler struct {
	Config config.Config
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		RequireAuth bool     `json:"require_auth"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.RequireAuth && strings.TrimSpace(h.Config.WorkOSClientID) == "" {
		issues = append(issues, "require_auth is set but no workos client id is configured")
	}
	if strings.TrimSpace(h.Config.PostgresDSN) == "" {
		issues = append(issues, "postgres dsn is not configured")
	}
	if h.Config.STTDeadline <= 0 || h.Config.QueryDeadline <= 0 || h.Config.TTSDeadline <= 0 || h.Config.StoreDeadline <= 0 {
		issues = append(issues, "turn pipeline deadlines must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:          ok,
		RequireAuth: h.Config.RequireAuth,
		Issues:      issues,
	})
}
