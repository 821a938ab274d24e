package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the slice of *websocket.Conn the framer needs; tests substitute
// a fake.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Framer serializes envelopes onto the websocket. A binary chunk is written
// as its JSON header frame immediately followed by the raw bytes, both under
// one lock so the pair is never interleaved. The framer does no buffering or
// reordering; callers are responsible for sequencing. After Close, sends are
// silently dropped so a finishing turn cannot trip over a dead connection.
type Framer struct {
	conn         wsConn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewFramer(conn wsConn, writeTimeout time.Duration, logger *slog.Logger) *Framer {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Framer{conn: conn, writeTimeout: writeTimeout, logger: logger}
}

// SendEnvelope writes one JSON envelope as a single text frame.
func (f *Framer) SendEnvelope(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	return f.writeLocked(websocket.TextMessage, data)
}

// SendBinaryChunk writes the chunk header envelope and its bytes as an
// ordered frame pair.
func (f *Framer) SendBinaryChunk(header any, data []byte) error {
	headerData, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode chunk header: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	if err := f.writeLocked(websocket.TextMessage, headerData); err != nil {
		return err
	}
	return f.writeLocked(websocket.BinaryMessage, data)
}

func (f *Framer) writeLocked(messageType int, data []byte) error {
	if err := f.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
		return err
	}
	return f.conn.WriteMessage(messageType, data)
}

// Close marks the framer dead. Subsequent sends return nil without writing.
func (f *Framer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}
