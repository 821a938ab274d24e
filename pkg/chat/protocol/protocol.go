// Package protocol defines the envelope types exchanged over a chat
// websocket connection. Envelopes are tagged JSON objects; binary audio is
// sent as a companion frame immediately following its JSON header.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResponseMode selects which halves of a reply the client receives.
type ResponseMode string

const (
	ResponseModeText  ResponseMode = "text"
	ResponseModeAudio ResponseMode = "audio"
	ResponseModeBoth  ResponseMode = "both"
)

func (m ResponseMode) Valid() bool {
	switch m {
	case ResponseModeText, ResponseModeAudio, ResponseModeBoth:
		return true
	}
	return false
}

func (m ResponseMode) IncludesText() bool {
	return m == ResponseModeText || m == ResponseModeBoth
}

func (m ResponseMode) IncludesAudio() bool {
	return m == ResponseModeAudio || m == ResponseModeBoth
}

// ConversationMode changes phrasing guidance in the prompt, nothing else.
type ConversationMode string

const (
	ModeNeutral ConversationMode = "neutral"
	ModeAdvice  ConversationMode = "advice"
	ModeFocus   ConversationMode = "focus"
)

func (m ConversationMode) Valid() bool {
	switch m {
	case ModeNeutral, ModeAdvice, ModeFocus:
		return true
	}
	return false
}

// Decode error codes. CodeBadRequest and CodeUnknownType mean the frame is
// not an envelope at all; CodeInvalidEnvelope means a recognized tag failed
// validation, which callers treat differently.
const (
	CodeBadRequest      = "bad_request"
	CodeUnknownType     = "unknown_type"
	CodeInvalidEnvelope = "invalid_envelope"
)

type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func badRequest(message string) *DecodeError {
	return &DecodeError{Code: CodeBadRequest, Message: message}
}

func invalidEnvelope(message string) *DecodeError {
	return &DecodeError{Code: CodeInvalidEnvelope, Message: message}
}

// Client -> server envelopes.

type UserMessage struct {
	Type         string           `json:"type"`
	Message      string           `json:"message"`
	ResponseMode ResponseMode     `json:"responseMode,omitempty"`
	Mode         ConversationMode `json:"mode,omitempty"`
}

type AudioMessage struct {
	Type         string           `json:"type"`
	Audio        string           `json:"audio"`
	Format       string           `json:"format"`
	ResponseMode ResponseMode     `json:"responseMode,omitempty"`
	Mode         ConversationMode `json:"mode,omitempty"`
}

type Interrupt struct {
	Type string `json:"type"`
}

type TypingIndicator struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
}

// DecodeClientMessage parses one inbound text frame into its concrete
// envelope type. The switch is closed: frames that are not envelopes at all
// (bad json, missing or unknown tag) error with codes the caller downgrades
// to plain text, while recognized tags that fail validation come back as
// CodeInvalidEnvelope and are dropped.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type")
	}

	switch typ {
	case "user_message":
		var msg UserMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidEnvelope("invalid user_message")
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, invalidEnvelope("user_message.message is required")
		}
		return msg, nil
	case "audio_message":
		var msg AudioMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidEnvelope("invalid audio_message")
		}
		if msg.Audio == "" {
			return nil, invalidEnvelope("audio_message.audio is required")
		}
		return msg, nil
	case "interrupt":
		var msg Interrupt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidEnvelope("invalid interrupt")
		}
		return msg, nil
	case "typing_indicator":
		var msg TypingIndicator
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, invalidEnvelope("invalid typing_indicator")
		}
		return msg, nil
	default:
		return nil, &DecodeError{Code: CodeUnknownType, Message: fmt.Sprintf("unsupported message type %q", typ)}
	}
}

// Server -> client envelopes.

type StartConversation struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type ThinkingStatus struct {
	Type       string `json:"type"`
	IsThinking bool   `json:"isThinking"`
}

type Transcription struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type EmotionDetected struct {
	Type    string `json:"type"`
	Emotion string `json:"emotion"`
}

// FillerAudio announces a filler clip; the clip bytes follow as one binary
// frame.
type FillerAudio struct {
	Type       string `json:"type"`
	Format     string `json:"format"`
	FillerName string `json:"fillerName"`
	ChunkSize  int    `json:"chunkSize"`
}

type TextChunk struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AudioChunkHeader announces one synthesized audio chunk; the chunk bytes
// follow as one binary frame.
type AudioChunkHeader struct {
	Type        string `json:"type"`
	ChunkSize   int    `json:"chunkSize"`
	Format      string `json:"format"`
	Emotion     string `json:"emotion"`
	ChunkNumber int    `json:"chunkNumber"`
}

type AudioComplete struct {
	Type string `json:"type"`
}

type ResponseComplete struct {
	Type         string           `json:"type"`
	Emotion      string           `json:"emotion"`
	ResponseMode ResponseMode     `json:"responseMode"`
	Mode         ConversationMode `json:"mode"`
}

type ResponseInterrupted struct {
	Type string `json:"type"`
}

type ErrorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
