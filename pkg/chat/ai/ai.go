// Package ai defines the narrow interfaces for the external model
// collaborators: reply completion, emotion classification, speech
// transcription, and speech synthesis. The orchestrator depends only on
// these interfaces; provider implementations live alongside them.
package ai

import (
	"context"
	"errors"
	"io"
)

// ErrNoSpeech is returned by a Transcriber when the audio carries no usable
// speech. It is a normal outcome, not a provider failure.
var ErrNoSpeech = errors.New("ai: no speech detected")

// Message is one role-tagged prompt message.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reply is the structured result of a completion call. EmotionTag may be
// empty or unrecognized; callers normalize it.
type Reply struct {
	Text       string
	EmotionTag string
}

// Completer produces a full reply for an ordered list of messages.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (Reply, error)
}

// Classifier scores the emotional content of free text against the known
// emotion names, each confidence in [0,1].
type Classifier interface {
	Classify(ctx context.Context, text string, emotions []string) (map[string]float64, error)
}

// Transcriber converts audio bytes into text, or ErrNoSpeech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Synthesizer converts reply text into an audio byte stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (io.ReadCloser, error)
}
