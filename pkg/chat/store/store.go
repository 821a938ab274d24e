// Package store persists conversation turns and per-user documents. The
// live session path treats it as best-effort: every failure is logged and
// swallowed by the caller, never surfaced to the client.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// Document kinds tracked per user.
const (
	DocEmotion     = "emotion"
	DocPreferences = "preferences"
)

// TurnRecord is one completed conversation turn in the durable log.
type TurnRecord struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Reply     string    `json:"reply"`
	Emotion   string    `json:"emotion"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the persistence contract the orchestrator needs: an append-only
// per-user turn log plus get/set of small per-user documents.
type Store interface {
	// AppendTurn appends one turn to the user's log.
	AppendTurn(ctx context.Context, userID string, turn TurnRecord) error

	// RecentTurns returns up to n most recent turns, newest first.
	RecentTurns(ctx context.Context, userID string, n int) ([]TurnRecord, error)

	// GetDocument returns the raw document of the given kind, or ErrNotFound.
	GetDocument(ctx context.Context, userID, kind string) ([]byte, error)

	// SetDocument stores the raw document of the given kind, overwriting any
	// previous value.
	SetDocument(ctx context.Context, userID, kind string, data []byte) error

	// Close releases driver resources.
	Close() error
}

// Pinger is implemented by drivers with a backing service worth probing
// from a readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}
