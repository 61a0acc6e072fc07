package messages

import (
	"errors"
	"fmt"
)

// Client -> server message types
const (
	TypeStart = "start"
	TypeStop  = "stop"
	TypeBarge = "barge"
)

// ErrInvalidJSON is returned by DecodeClientMessage when the frame is not a JSON object.
var ErrInvalidJSON = errors.New("invalid json")

// ClientMessage is a control envelope sent from the client to the relay.
// Only the fields relevant to Type are populated.
type ClientMessage struct {
	Type     string       `json:"type"` // "start", "audio", "text", "stop", "barge"
	System   string       `json:"system,omitempty"`
	Language LanguageCode `json:"language,omitempty"`
	Base64   string       `json:"base64,omitempty"` // 16kHz PCM16LE, base64
	Text     string       `json:"text,omitempty"`
}

// NewStartMessage creates a start envelope
func NewStartMessage(system string, lang LanguageCode) *ClientMessage {
	return &ClientMessage{Type: TypeStart, System: system, Language: lang}
}

// NewClientAudioMessage creates an audio envelope carrying wire-encoded samples
func NewClientAudioMessage(b64 string) *ClientMessage {
	return &ClientMessage{Type: TypeAudio, Base64: b64}
}

// NewClientTextMessage creates a text envelope
func NewClientTextMessage(text string, lang LanguageCode) *ClientMessage {
	return &ClientMessage{Type: TypeText, Text: text, Language: lang}
}

// NewBargeMessage creates a barge-in envelope
func NewBargeMessage() *ClientMessage {
	return &ClientMessage{Type: TypeBarge}
}

// NewStopMessage creates a stop envelope
func NewStopMessage() *ClientMessage {
	return &ClientMessage{Type: TypeStop}
}

// DecodeClientMessage parses one inbound frame. Any decode failure is
// reported as ErrInvalidJSON so the relay can answer with a fixed error text.
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return &msg, nil
}
