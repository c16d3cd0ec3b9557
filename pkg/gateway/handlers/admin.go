package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aurora-labs/voxgate/pkg/core"
	"github.com/aurora-labs/voxgate/pkg/gateway/apierror"
	"github.com/aurora-labs/voxgate/pkg/gateway/auth"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/protocol"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/sessions"
	"github.com/aurora-labs/voxgate/pkg/gateway/mw"
	"github.com/aurora-labs/voxgate/pkg/identity"
)

const adminRole = "admin"

// AdminNotifyHandler backs POST /api/admin/notify: an operator-facing
// broadcast that pushes a warning frame to every open connection a target
// user has, going through the same sessions.Registry fan-out the gateway
// uses for its own graceful-drain notices.
type AdminNotifyHandler struct {
	Verifier identity.Verifier
	Registry *sessions.Registry
	Logger   *slog.Logger
}

type adminNotifyRequest struct {
	UserID  string `json:"userId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type adminNotifyResponse struct {
	Success   bool `json:"success"`
	Delivered int  `json:"delivered"`
}

func (h AdminNotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodPost {
		writeAdminError(w, http.StatusMethodNotAllowed, core.ErrInvalidRequest, "method not allowed", reqID)
		return
	}

	token, ok := auth.ParseBearer(r)
	if !ok {
		writeAdminError(w, http.StatusUnauthorized, core.ErrAuthentication, "missing bearer token", reqID)
		return
	}
	id, err := h.Verifier.Verify(r.Context(), token)
	if err != nil {
		writeAdminError(w, http.StatusUnauthorized, core.ErrAuthentication, "invalid bearer token", reqID)
		return
	}
	if id.Role != adminRole {
		writeAdminError(w, http.StatusForbidden, core.ErrPermission, "admin role required", reqID)
		return
	}

	var body adminNotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAdminError(w, http.StatusBadRequest, core.ErrInvalidRequest, "invalid JSON body", reqID)
		return
	}
	userID := strings.TrimSpace(body.UserID)
	message := strings.TrimSpace(body.Message)
	if userID == "" || message == "" {
		writeAdminError(w, http.StatusBadRequest, core.ErrInvalidRequest, "userId and message are required", reqID)
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		code = "admin_notice"
	}

	payload, err := json.Marshal(protocol.NewWarning(code, message))
	if err != nil {
		logger.Error("admin notify: marshal failed", "request_id", reqID, "error", err)
		writeAdminError(w, http.StatusInternalServerError, core.ErrAPI, "failed to build notice", reqID)
		return
	}

	delivered := h.Registry.SendToUser(userID, payload)
	logger.Info("admin notify: sent", "request_id", reqID, "user_id", userID, "delivered", delivered)

	writeJSON(w, http.StatusOK, adminNotifyResponse{Success: true, Delivered: delivered})
}

func writeAdminError(w http.ResponseWriter, status int, errType core.ErrorType, message, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: &core.Error{
		Type:      errType,
		Message:   message,
		RequestID: requestID,
	}})
}
