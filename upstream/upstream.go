// Package upstream defines the capability interface every live-session backend
// implements. The relay only talks to this interface; adapters such as the
// Gemini connector translate it onto a concrete API.
//
// A Session reports everything it observes as Events on a single channel, in
// arrival order. The channel is closed after the final EventClosed.
package upstream

import (
	"context"
	"errors"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("upstream session closed")

// EventKind enumerates upstream events.
type EventKind int

const (
	EventOpened EventKind = iota
	EventAudio
	EventText
	EventTurnComplete
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventAudio:
		return "audio"
	case EventText:
		return "text"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one upstream occurrence. Audio holds 24kHz PCM16LE bytes for
// EventAudio; Text holds model text for EventText; Err is set for EventError.
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
	Err   error
}

// GenerationConfig holds the fixed sampling parameters of a live session.
type GenerationConfig struct {
	Temperature float32
	TopP        float32
}

// DefaultGenerationConfig matches the relay's fixed generation parameters.
var DefaultGenerationConfig = GenerationConfig{Temperature: 0.7, TopP: 0.9}

// Config describes a session to open.
type Config struct {
	Model             string
	SystemInstruction string
	Voice             string
	Generation        GenerationConfig
}

// Session is an open live conversation.
type Session interface {
	// SendAudio forwards one realtime audio chunk tagged with mimeType.
	SendAudio(ctx context.Context, pcm []byte, mimeType string) error

	// SendText sends text as a complete user turn.
	SendText(ctx context.Context, text string) error

	// SendToolResult injects the result of a side-channel tool followed by an
	// instruction asking the model to relay it.
	SendToolResult(ctx context.Context, tool, result, followUp string) error

	// CancelResponse stops the in-flight response, if any.
	CancelResponse(ctx context.Context) error

	// Events returns the event stream. It is closed after EventClosed.
	Events() <-chan Event

	// Close ends the session. Safe to call more than once.
	Close() error
}

// Connector opens live sessions.
type Connector interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}
