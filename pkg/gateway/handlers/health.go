package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kindred-labs/kin/pkg/chat/store"
	"github.com/kindred-labs/kin/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can take traffic: valid runtime
// configuration and a reachable store.
type ReadyHandler struct {
	Config config.Config
	Store  store.Store
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Provider    string   `json:"provider"`
		StoreDriver string   `json:"store_driver"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.CompletionProvider {
	case config.ProviderGemini, config.ProviderOpenAI:
	default:
		issues = append(issues, "invalid completion provider")
	}
	switch h.Config.StoreDriver {
	case config.StoreMemory, config.StoreRedis, config.StorePostgres:
	default:
		issues = append(issues, "invalid store driver")
	}
	if h.Config.HistoryWindow <= 0 {
		issues = append(issues, "history window must be > 0")
	}
	if h.Config.TextChunkRunes <= 0 {
		issues = append(issues, "text chunk size must be > 0")
	}
	if h.Config.AudioMinChunkBytes <= 0 {
		issues = append(issues, "audio min chunk bytes must be > 0")
	}
	if h.Config.CompleteForceTimeout <= 0 {
		issues = append(issues, "complete force timeout must be > 0")
	}
	if h.Config.WSWriteTimeout <= 0 || h.Config.WSPingInterval <= 0 {
		issues = append(issues, "websocket timings must be > 0")
	}

	if h.Store != nil {
		if pinger, ok := h.Store.(store.Pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				issues = append(issues, "store unreachable: "+err.Error())
			}
		}
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
		Provider:    string(h.Config.CompletionProvider),
		StoreDriver: string(h.Config.StoreDriver),
		Issues:      issues,
	})
}
