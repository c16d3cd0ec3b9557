package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aurora-labs/voxgate/pkg/core"
	"github.com/aurora-labs/voxgate/pkg/gateway/apierror"
	"github.com/aurora-labs/voxgate/pkg/gateway/auth"
	"github.com/aurora-labs/voxgate/pkg/gateway/mw"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/store"
)

// SessionsHandler backs the read-only chat history endpoints a client needs
// to repopulate its sidebar and transcript views: listing a user's sessions
// and replaying one session's messages. Creating, renaming, and deleting
// sessions are out of scope; the live WebSocket session is the only writer.
type SessionsHandler struct {
	Verifier identity.Verifier
	Store    store.Store
	Logger   *slog.Logger
}

type sessionSummary struct {
	ChatID      string `json:"chatId"`
	Title       string `json:"title"`
	CreatedAt   string `json:"createdAt"`
	LastUpdated string `json:"lastUpdated"`
}

type listSessionsResponse struct {
	Success bool             `json:"success"`
	Data    []sessionSummary `json:"data"`
}

type messageView struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

type listMessagesResponse struct {
	Success bool          `json:"success"`
	Data    []messageView `json:"data"`
}

// ListSessions backs GET /api/chat/sessions.
func (h SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.logger()

	id, ok := h.authenticate(r)
	if !ok {
		writeSessionsError(w, http.StatusUnauthorized, core.ErrAuthentication, "missing or invalid bearer token", reqID)
		return
	}

	sessions, err := h.Store.ListSessions(r.Context(), id.UserID)
	if err != nil {
		logger.Error("sessions: list failed", "request_id", reqID, "error", err)
		writeSessionsError(w, http.StatusInternalServerError, core.ErrAPI, "failed to list sessions", reqID)
		return
	}

	data := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		data = append(data, sessionSummary{
			ChatID:      s.ID,
			Title:       s.Title,
			CreatedAt:   s.CreatedAt.Format(time.RFC3339Nano),
			LastUpdated: s.LastUpdated.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, listSessionsResponse{Success: true, Data: data})
}

// Messages backs GET /api/chat/{id}/messages.
func (h SessionsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.logger()

	id, ok := h.authenticate(r)
	if !ok {
		writeSessionsError(w, http.StatusUnauthorized, core.ErrAuthentication, "missing or invalid bearer token", reqID)
		return
	}

	chatID := r.PathValue("id")
	if chatID == "" {
		writeSessionsError(w, http.StatusBadRequest, core.ErrInvalidRequest, "chat id is required", reqID)
		return
	}

	if _, err := h.Store.LoadSession(r.Context(), id.UserID, chatID); err != nil {
		switch err {
		case store.ErrNotFound:
			writeSessionsError(w, http.StatusNotFound, core.ErrNotFound, "chat not found", reqID)
		case store.ErrForbidden:
			writeSessionsError(w, http.StatusForbidden, core.ErrPermission, "chat belongs to a different user", reqID)
		default:
			logger.Error("sessions: load failed", "request_id", reqID, "chat_id", chatID, "error", err)
			writeSessionsError(w, http.StatusInternalServerError, core.ErrAPI, "failed to load chat", reqID)
		}
		return
	}

	msgs, err := h.Store.ListMessages(r.Context(), chatID)
	if err != nil {
		logger.Error("sessions: list messages failed", "request_id", reqID, "chat_id", chatID, "error", err)
		writeSessionsError(w, http.StatusInternalServerError, core.ErrAPI, "failed to list messages", reqID)
		return
	}

	data := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		data = append(data, messageView{
			ID:        m.ID,
			Role:      string(m.Role),
			Text:      m.Text,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	writeJSON(w, http.StatusOK, listMessagesResponse{Success: true, Data: data})
}

func (h SessionsHandler) authenticate(r *http.Request) (identity.Identity, bool) {
	token, ok := auth.ParseBearer(r)
	if !ok {
		return identity.Identity{}, false
	}
	id, err := h.Verifier.Verify(r.Context(), token)
	if err != nil {
		return identity.Identity{}, false
	}
	return id, true
}

func (h SessionsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSessionsError(w http.ResponseWriter, status int, errType core.ErrorType, message, requestID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: &core.Error{
		Type:      errType,
		Message:   message,
		RequestID: requestID,
	}})
}
