package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kindred-labs/kin/pkg/chat/ai"
	"github.com/kindred-labs/kin/pkg/chat/emotion"
	"github.com/kindred-labs/kin/pkg/chat/session"
	"github.com/kindred-labs/kin/pkg/gateway/config"
)

type stubCompleter struct {
	reply ai.Reply
}

func (s stubCompleter) Complete(context.Context, []ai.Message) (ai.Reply, error) {
	return s.reply, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string, []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func testChatConfig() config.Config {
	return config.Config{
		WSWriteTimeout:       time.Second,
		WSPingInterval:       time.Minute,
		WSReadLimitBytes:     1 << 20,
		WSHandshakeTimeout:   time.Second,
		CORSAllowedOrigins:   map[string]struct{}{"https://app.example": {}},
		TextChunkRunes:       48,
		TextChunkDelay:       time.Millisecond,
		AudioMinChunkBytes:   8 << 10,
		CompleteForceTimeout: 5 * time.Second,
	}
}

func newChatServer(t *testing.T, reply ai.Reply) (*httptest.Server, *session.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cancels := session.NewCancels()
	orch, err := session.NewOrchestrator(session.Config{
		TextChunkRunes: 48,
		TextChunkDelay: time.Millisecond,
	}, session.Deps{
		Logger:    logger,
		Completer: stubCompleter{reply: reply},
		Emotions:  emotion.NewTracker(stubClassifier{}, nil, logger),
		Cancels:   cancels,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	registry := session.NewRegistry(cancels, session.DefaultHistoryWindow)
	h := ChatHandler{
		Config:       testChatConfig(),
		Logger:       logger,
		Registry:     registry,
		Orchestrator: orch,
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dialChat(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return env
}

// collectUntil reads envelopes until one of the given terminal type arrives,
// returning every type tag seen.
func collectUntil(t *testing.T, conn *websocket.Conn, terminal string) []string {
	t.Helper()
	var types []string
	for {
		env := readEnvelope(t, conn)
		typ, _ := env["type"].(string)
		types = append(types, typ)
		if typ == terminal || typ == "error" {
			return types
		}
	}
}

func TestChatHandshakeSendsStartConversation(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{Text: "hi"})
	conn := dialChat(t, srv)

	env := readEnvelope(t, conn)
	if env["type"] != "start_conversation" {
		t.Fatalf("first envelope type = %v, want start_conversation", env["type"])
	}
	id, _ := env["sessionId"].(string)
	if !strings.HasPrefix(id, "c_") {
		t.Fatalf("sessionId = %q, want c_ prefix", id)
	}
}

func TestChatUserMessageRunsFullTurn(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{Text: "hello from the other side", EmotionTag: "cheerful"})
	conn := dialChat(t, srv)
	readEnvelope(t, conn) // start_conversation

	err := conn.WriteJSON(map[string]any{
		"type":         "user_message",
		"message":      "hey",
		"responseMode": "text",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	types := collectUntil(t, conn, "response_complete")
	joined := strings.Join(types, ",")
	for _, want := range []string{"thinking_status", "emotion_detected", "text_chunk", "response_complete"} {
		if !strings.Contains(joined, want) {
			t.Errorf("turn envelopes %v missing %s", types, want)
		}
	}
	if types[len(types)-1] != "response_complete" {
		t.Errorf("terminal envelope = %s, want response_complete", types[len(types)-1])
	}
}

func TestChatUndecodableFrameDowngradesToPlainText(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{Text: "understood", EmotionTag: "neutral"})
	conn := dialChat(t, srv)
	readEnvelope(t, conn)

	// Not a protocol envelope at all; the handler must treat it as a
	// plain user message rather than dropping it.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("just some words")); err != nil {
		t.Fatalf("write: %v", err)
	}

	types := collectUntil(t, conn, "response_complete")
	if types[len(types)-1] != "response_complete" {
		t.Fatalf("downgraded frame did not run a turn: %v", types)
	}
}

func TestChatInvalidEnvelopeIsDroppedNotEchoed(t *testing.T) {
	srv, registry := newChatServer(t, ai.Reply{Text: "fine", EmotionTag: "neutral"})
	conn := dialChat(t, srv)
	start := readEnvelope(t, conn)
	sessionID, _ := start["sessionId"].(string)

	// A recognized envelope that fails validation must not run a turn; its
	// raw JSON would otherwise be fed to the model as user text.
	if err := conn.WriteJSON(map[string]any{"type": "user_message", "message": "   "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "user_message", "message": "a real question"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	types := collectUntil(t, conn, "response_complete")
	if types[len(types)-1] != "response_complete" {
		t.Fatalf("valid message did not run a turn: %v", types)
	}

	turns := registry.GetOrCreate(sessionID).RecentTurns()
	if len(turns) != 1 {
		t.Fatalf("history length = %d, want 1 (invalid envelope must not start a turn)", len(turns))
	}
	if turns[0].Question != "a real question" {
		t.Errorf("history question = %q, want the valid message only", turns[0].Question)
	}
}

func TestChatUnknownEnvelopeTypeDowngrades(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{Text: "fine", EmotionTag: "neutral"})
	conn := dialChat(t, srv)
	readEnvelope(t, conn)

	if err := conn.WriteJSON(map[string]any{"type": "telepathy", "message": "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	types := collectUntil(t, conn, "response_complete")
	if types[len(types)-1] != "response_complete" {
		t.Fatalf("unknown envelope did not run a turn: %v", types)
	}
}

func TestChatRejectsNonGet(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{})
	resp, err := http.Post(srv.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestChatRejectsDisallowedOrigin(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestChatAllowsListedOrigin(t *testing.T) {
	srv, _ := newChatServer(t, ai.Reply{Text: "hi"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://app.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	defer conn.Close()

	env := readEnvelope(t, conn)
	if env["type"] != "start_conversation" {
		t.Fatalf("first envelope type = %v", env["type"])
	}
}
