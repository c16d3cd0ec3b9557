package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aurora-labs/voxgate/pkg/core"
	"github.com/aurora-labs/voxgate/pkg/gateway/apierror"
	"github.com/aurora-labs/voxgate/pkg/gateway/auth"
	"github.com/aurora-labs/voxgate/pkg/gateway/mw"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/store"
)

// ChatBootstrapHandler backs POST /api/chat/new: it exists so a client has
// a chatId ready before it ever opens the WebSocket. It authenticates,
// creates a session, and seeds it with a greeting the client can render
// immediately.
type ChatBootstrapHandler struct {
	Verifier identity.Verifier
	Store    store.Store
	Logger   *slog.Logger
}

type chatBootstrapRequest struct {
	Title string `json:"title"`
}

type chatBootstrapData struct {
	ChatID      string `json:"chatId"`
	Title       string `json:"title"`
	CreatedAt   string `json:"createdAt"`
	LastUpdated string `json:"lastUpdated"`
}

type chatBootstrapResponse struct {
	Success bool              `json:"success"`
	Data    chatBootstrapData `json:"data"`
}

const bootstrapGreeting = "How can I help you today?"

func (h ChatBootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodPost {
		writeBootstrapError(w, http.StatusMethodNotAllowed, core.ErrInvalidRequest, "method not allowed", reqID)
		return
	}

	token, ok := auth.ParseBearer(r)
	if !ok {
		writeBootstrapError(w, http.StatusUnauthorized, core.ErrAuthentication, "missing bearer token", reqID)
		return
	}
	id, err := h.Verifier.Verify(r.Context(), token)
	if err != nil {
		writeBootstrapError(w, http.StatusUnauthorized, core.ErrAuthentication, "invalid bearer token", reqID)
		return
	}

	var body chatBootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBootstrapError(w, http.StatusBadRequest, core.ErrInvalidRequest, "invalid JSON body", reqID)
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		writeBootstrapError(w, http.StatusBadRequest, core.ErrInvalidRequest, "title is required", reqID)
		return
	}

	session, err := h.Store.CreateSession(r.Context(), id.UserID, title)
	if err != nil {
		logger.Error("bootstrap: create session failed", "request_id", reqID, "error", err)
		writeBootstrapError(w, http.StatusInternalServerError, core.ErrAPI, "failed to create session", reqID)
		return
	}

	if _, err := h.Store.AppendMessage(r.Context(), session.ID, uuid.NewString(), store.RoleAssistant, bootstrapGreeting); err != nil {
		logger.Error("bootstrap: seed greeting failed", "request_id", reqID, "chat_id", session.ID, "error", err)
		writeBootstrapError(w, http.StatusInternalServerError, core.ErrAPI, "failed to create session", reqID)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(chatBootstrapResponse{
		Success: true,
		Data: chatBootstrapData{
			ChatID:      session.ID,
			Title:       session.Title,
			CreatedAt:   session.CreatedAt.Format(time.RFC3339Nano),
			LastUpdated: session.LastUpdated.Format(time.RFC3339Nano),
		},
	})
}

func writeBootstrapError(w http.ResponseWriter, status int, errType core.ErrorType, message, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: &core.Error{
		Type:      errType,
		Message:   message,
		RequestID: requestID,
	}})
}
