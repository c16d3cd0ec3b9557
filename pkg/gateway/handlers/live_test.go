package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aurora-labs/voxgate/pkg/gateway/config"
	"github.com/aurora-labs/voxgate/pkg/gateway/lifecycle"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/sessions"
	"github.com/aurora-labs/voxgate/pkg/gateway/live/turn"
	"github.com/aurora-labs/voxgate/pkg/identity"
	"github.com/aurora-labs/voxgate/pkg/query"
	"github.com/aurora-labs/voxgate/pkg/speech/stt"
	"github.com/aurora-labs/voxgate/pkg/speech/tts"
	"github.com/aurora-labs/voxgate/pkg/store"
)

func newTestLiveHandler(t *testing.T) (LiveHandler, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	pipeline := &turn.Pipeline{
		STT:       &stt.FakeProvider{},
		TTS:       &tts.FakeProvider{Audio: []byte("mp3-bytes")},
		Resolver:  &query.FakeResolver{Answer: query.Answer{Text: "hi there"}},
		Store:     memStore,
		Deadlines: turn.DefaultDeadlines(),
		Logger:    slog.New(slog.DiscardHandler),
	}
	verifier := &identity.StaticVerifier{Tokens: map[string]identity.Identity{
		"tok_valid": {UserID: "user_1", Email: "a@example.com"},
	}}
	return LiveHandler{
		Config:   config.Config{RequireAuth: false, NormalQueueHighWaterMark: 8},
		Verifier: verifier,
		Pipeline: pipeline,
		Store:    memStore,
		Logger:   slog.New(slog.DiscardHandler),
		Tracker:  sessions.NewTracker(),
		Registry: sessions.NewRegistry(),
	}, memStore
}

func dialWS(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrameType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return envelope.Type
}

func TestLiveHandler_UpgradesAndSendsConnectionEstablished(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialWS(t, srv, nil)
	defer conn.Close()

	if got := readFrameType(t, conn); got != "connection_established" {
		t.Fatalf("first frame type = %q, want connection_established", got)
	}
}

func TestLiveHandler_UnauthenticatedConnection_ReportsUnauthenticated(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialWS(t, srv, nil)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Authenticated {
		t.Fatalf("expected unauthenticated connection_established")
	}
}

func dialWSWithToken(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestLiveHandler_ValidToken_AuthenticatesUpgrade(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := dialWSWithToken(t, srv, "tok_valid")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Authenticated {
		t.Fatalf("expected authenticated connection_established for a valid token")
	}
}

func TestLiveHandler_RequireAuth_RejectsMissingToken(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	h.Config.RequireAuth = true
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, resp, err := dialWSWithToken(t, srv, "")
	if err == nil {
		t.Fatalf("expected dial to fail without a token when RequireAuth is set")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLiveHandler_RequireAuth_RejectsInvalidToken(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	h.Config.RequireAuth = true
	srv := httptest.NewServer(h)
	defer srv.Close()

	_, resp, err := dialWSWithToken(t, srv, "tok_bogus")
	if err == nil {
		t.Fatalf("expected dial to fail for an invalid token when RequireAuth is set")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLiveHandler_DrainingRejectsUpgrade(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h.Lifecycle = lc
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail while draining")
	}
	if resp == nil || resp.StatusCode != 529 {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("status = %d, want 529", status)
	}
}

func TestLiveHandler_OriginNotAllowed_RejectsUpgrade(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	h.Config.CORSAllowedOrigins = map[string]struct{}{"https://allowed.example": {}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatalf("expected dial to fail for a disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLiveHandler_GracefulDrain_WarnsAndCancelsSession(t *testing.T) {
	h, _ := newTestLiveHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialWS(t, srv, nil)
	defer conn.Close()
	_ = readFrameType(t, conn) // connection_established

	deadline := time.Now().Add(2 * time.Second)
	for h.Tracker.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.Tracker.Count() != 1 {
		t.Fatalf("tracker count = %d, want 1", h.Tracker.Count())
	}

	if sent := h.Tracker.WarnAll("draining", "server is shutting down"); sent != 1 {
		t.Fatalf("WarnAll delivered to %d sessions, want 1", sent)
	}
	if got := readFrameType(t, conn); got != "warning" {
		t.Fatalf("frame type = %q, want warning", got)
	}

	if canceled := h.Tracker.CancelAll(); canceled != 1 {
		t.Fatalf("CancelAll canceled %d sessions, want 1", canceled)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !h.Tracker.Wait(ctx) {
		t.Fatalf("tracker did not drain after CancelAll")
	}
}
