package messages

import "strings"

// Message types
const (
	TypeAudio        = "audio"
	TypeText         = "text"
	TypeStatus       = "status"
	TypeError        = "error"
	TypeTurnComplete = "turnComplete"
)

// Status values
const (
	StatusUpstreamOpen   = "upstream_open"
	StatusUpstreamClosed = "upstream_closed"
	statusToolPrefix     = "tool:"
)

// Error texts sent to the client
const (
	ErrTextInvalidJSON       = "Invalid JSON"
	ErrTextSessionNotStarted = `Session not started. Send {type:"start"} first.`
	ErrTextOpenFailed        = "Failed to open session"
	ErrTextUpstream          = "upstream_error"
	ErrTextAudioSend         = "audio send failed"
	ErrTextTextSend          = "text send failed"
	ErrTextBargeCancel       = "barge cancel failed"
)

// ServerMessage is an envelope sent from the relay to the client.
type ServerMessage struct {
	Type   string `json:"type"` // "status", "error", "audio", "text", "turnComplete"
	Value  string `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
	Base64 string `json:"base64,omitempty"` // 24kHz PCM16LE, base64
	Text   string `json:"text,omitempty"`
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(b64 string) *ServerMessage {
	return &ServerMessage{Type: TypeAudio, Base64: b64}
}

// NewTextMessage creates a text response message
func NewTextMessage(text string) *ServerMessage {
	return &ServerMessage{Type: TypeText, Text: text}
}

// NewStatusMessage creates a status message
func NewStatusMessage(value string) *ServerMessage {
	return &ServerMessage{Type: TypeStatus, Value: value}
}

// NewToolStatusMessage reports that the named tool is being consulted
func NewToolStatusMessage(tool string) *ServerMessage {
	return NewStatusMessage(statusToolPrefix + tool)
}

// NewErrorMessage creates an error message
func NewErrorMessage(text string) *ServerMessage {
	return &ServerMessage{Type: TypeError, Error: text}
}

// NewTurnCompleteMessage marks the end of an assistant turn
func NewTurnCompleteMessage() *ServerMessage {
	return &ServerMessage{Type: TypeTurnComplete}
}

// ToolName returns the tool name of a "tool:<name>" status value.
func ToolName(status string) (string, bool) {
	if !strings.HasPrefix(status, statusToolPrefix) {
		return "", false
	}
	return strings.TrimPrefix(status, statusToolPrefix), true
}

// ErrorText returns err's message, or fallback when err carries none.
func ErrorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallback
}

// Valid reports whether the message is well formed for its type.
// The client drops anything that fails this check.
func (m *ServerMessage) Valid() bool {
	switch m.Type {
	case TypeStatus:
		return m.Value != ""
	case TypeError:
		return m.Error != ""
	case TypeAudio:
		return m.Base64 != ""
	case TypeText, TypeTurnComplete:
		return true
	default:
		return false
	}
}

// DecodeServerMessage parses one frame received by the client.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
