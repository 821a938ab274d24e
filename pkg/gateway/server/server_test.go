package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kindred-labs/kin/pkg/chat/ai"
	"github.com/kindred-labs/kin/pkg/chat/store"
	"github.com/kindred-labs/kin/pkg/gateway/config"
)

type stubCompleter struct{}

func (stubCompleter) Complete(context.Context, []ai.Message) (ai.Reply, error) {
	return ai.Reply{Text: "ok"}, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(context.Context, string, []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func testServerConfig() config.Config {
	return config.Config{
		CompletionProvider:   config.ProviderGemini,
		StoreDriver:          config.StoreMemory,
		HistoryWindow:        6,
		TextChunkRunes:       48,
		TextChunkDelay:       time.Millisecond,
		AudioMinChunkBytes:   8 << 10,
		AudioFormat:          "mp3",
		CompleteForceTimeout: 30 * time.Second,
		WSWriteTimeout:       time.Second,
		WSPingInterval:       time.Minute,
		WSReadLimitBytes:     1 << 20,
		WSHandshakeTimeout:   time.Second,
		CORSAllowedOrigins:   map[string]struct{}{},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s, err := New(testServerConfig(), logger, Deps{
		Completer:  stubCompleter{},
		Classifier: stubClassifier{},
		Store:      store.NewMemory(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestServerHealthRouteReachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header from the middleware chain")
	}
}

func TestServerReadyRouteReachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServerMetricsRouteReachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "kin_sessions_active") {
		t.Fatal("expected kin_sessions_active in metrics exposition")
	}
}

func TestServerChatRouteRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))

	// A plain GET without websocket headers must not succeed.
	if rr.Code == http.StatusOK {
		t.Fatalf("status = %d, want upgrade failure", rr.Code)
	}
}

func TestServerUnknownRoute404(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
