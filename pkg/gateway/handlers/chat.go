package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kindred-labs/kin/pkg/chat/protocol"
	"github.com/kindred-labs/kin/pkg/chat/session"
	"github.com/kindred-labs/kin/pkg/gateway/config"
	"github.com/kindred-labs/kin/pkg/gateway/metrics"
	"github.com/kindred-labs/kin/pkg/gateway/mw"
)

// ChatHandler owns the /v1/chat websocket endpoint: upgrade, session
// registration, the read loop, and teardown. Turn semantics live in the
// orchestrator.
type ChatHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Registry     *session.Registry
	Orchestrator *session.Orchestrator
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.WSReadLimitBytes > 0 {
		conn.SetReadLimit(h.Config.WSReadLimitBytes)
	}

	sessionID := "c_" + randHex(8)
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", sessionID, "request_id", reqID)

	sess := h.Registry.GetOrCreate(sessionID)
	h.Registry.RegisterCloser(sessionID, func() { _ = conn.Close() })
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	fr := session.NewFramer(conn, h.Config.WSWriteTimeout, logger)
	defer fr.Close()
	defer h.Registry.Disconnect(sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := fr.SendEnvelope(protocol.StartConversation{Type: "start_conversation", SessionID: sessionID}); err != nil {
		logger.Warn("start_conversation send failed", "error", err)
		return
	}
	logger.Info("chat session opened")

	stopPing := h.startPing(conn, logger)
	defer stopPing()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("chat session read failed", "error", err)
			} else {
				logger.Info("chat session closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			logger.Warn("unexpected binary frame from client", "bytes", len(data))
			continue
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			var decodeErr *protocol.DecodeError
			if errors.As(err, &decodeErr) && decodeErr.Code == protocol.CodeInvalidEnvelope {
				// Recognized tag, bad contents: drop it rather than feed
				// its raw JSON to the model as user text.
				logger.Warn("invalid envelope dropped", "detail", decodeErr.Message)
				continue
			}
			// A frame we cannot decode at all is still a user talking;
			// treat the raw text as a plain message instead of dropping it.
			if decodeErr != nil {
				logger.Warn("undecodable frame downgraded to plain text", "code", decodeErr.Code, "detail", decodeErr.Message)
			} else {
				logger.Warn("undecodable frame downgraded to plain text", "error", err)
			}
			text := strings.TrimSpace(string(data))
			if text == "" {
				continue
			}
			msg = protocol.UserMessage{Type: "user_message", Message: text}
		}

		h.Orchestrator.HandleEnvelope(ctx, sess, fr, msg)
	}
}

func (h ChatHandler) originAllowed(r *http.Request) bool {
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

// startPing keeps intermediaries from idling the connection out. Control
// frames are safe to write concurrently with the framer's data frames.
func (h ChatHandler) startPing(conn *websocket.Conn, logger *slog.Logger) func() {
	interval := h.Config.WSPingInterval
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(h.Config.WSWriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					logger.Debug("ping failed", "error", err)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
