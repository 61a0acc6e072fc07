// Package client is the voice client half of the relay protocol: it captures
// microphone audio, plays assistant audio and handles barge-in.
package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/room4-2/voicebridge/audio"
	"github.com/room4-2/voicebridge/messages"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	bargeDebounce    = 250 * time.Millisecond
	ignoreAfterBarge = 300 * time.Millisecond
	speakingGrace    = 250 * time.Millisecond
)

// DefaultPersona opens every system instruction
const DefaultPersona = "You are a friendly Revolt Motors voice assistant."

const translateRule = "If I speak a different language, translate my request but ALWAYS reply in the selected language."

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrEmptyText        = errors.New("empty text")
)

// State is the connection phase
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Role of a transcript entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TranscriptEntry is one line of the in-memory chat log
type TranscriptEntry struct {
	Role Role
	Text string
}

// Options configure a Controller
type Options struct {
	URL      string
	Language messages.LanguageCode
	Persona  string

	Dialer Dialer
	Clock  Clock
	Player *audio.Player
	// PlaybackRate is the output device rate; assistant audio is resampled to it
	PlaybackRate int
	Log          zerolog.Logger

	OnState      func(State)
	OnTranscript func(TranscriptEntry)
	OnTool       func(name string)
	// OnAudio sees accepted assistant audio at the relay output rate
	OnAudio func(samples []float32)
}

// Controller drives one client conversation. All methods are safe for
// concurrent use. The capture worker and the read loop run on their own
// goroutines alongside the UI.
type Controller struct {
	opts Options

	mu          sync.Mutex
	state       State
	transport   Transport
	capture     *Capture
	language    messages.LanguageCode
	speaking    bool
	transcript  []TranscriptEntry
	lastBarge   time.Time
	ignoreUntil time.Time
	speakingOff Timer
	speakingGen uint64

	group *errgroup.Group
}

// NewController applies defaults to opts
func NewController(opts Options) *Controller {
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Player == nil {
		opts.Player = audio.NewPlayer()
	}
	if opts.PlaybackRate == 0 {
		opts.PlaybackRate = audio.OutputRate
	}
	if opts.Persona == "" {
		opts.Persona = DefaultPersona
	}
	return &Controller{opts: opts, language: opts.Language}
}

// SystemPrompt builds the start instruction for lang
func SystemPrompt(persona string, lang messages.LanguageCode) string {
	l, _ := messages.LookupLanguage(lang)
	return strings.Join([]string{persona, l.Nudge, translateRule}, " ")
}

func reassertLanguage(name string) string {
	return fmt.Sprintf("From now on, reply ONLY in %s. If I use another language, translate and answer in %s.", name, name)
}

// Connect dials the relay and requests an upstream session. The controller
// becomes connected when the relay reports upstream_open.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	lang := c.language
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	t, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		c.setDisconnected()
		return err
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	if err := t.Send(messages.NewStartMessage(SystemPrompt(c.opts.Persona, lang), lang)); err != nil {
		c.handleClosed(t)
		return fmt.Errorf("failed to send start: %w", err)
	}

	g := new(errgroup.Group)
	c.mu.Lock()
	c.group = g
	c.mu.Unlock()
	g.Go(func() error {
		c.readLoop(t)
		return nil
	})
	return nil
}

// Wait blocks until the read loop and any capture worker have exited
func (c *Controller) Wait() error {
	c.mu.Lock()
	g := c.group
	c.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

func (c *Controller) readLoop(t Transport) {
	for {
		data, err := t.Receive()
		if err != nil {
			c.opts.Log.Debug().Err(err).Msg("transport closed")
			c.handleClosed(t)
			return
		}
		c.handleFrame(data)
	}
}

// Disconnect stops the microphone and closes the transport
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t == nil {
		c.setDisconnected()
		return nil
	}
	c.handleClosed(t)
	return t.Close()
}

// handleClosed resets state if t is still the active transport
func (c *Controller) handleClosed(t Transport) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.mu.Unlock()

	c.setDisconnected()
	_ = t.Close()
}

func (c *Controller) setDisconnected() {
	c.mu.Lock()
	capture := c.capture
	c.capture = nil
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.setSpeakingLocked(false)
	c.mu.Unlock()

	if capture != nil {
		_ = capture.Stop()
	}
	if changed {
		c.notifyState(StateDisconnected)
	}
}

func (c *Controller) handleFrame(data []byte) {
	msg, err := messages.DecodeServerMessage(data)
	if err != nil || !msg.Valid() {
		return
	}

	switch msg.Type {
	case messages.TypeStatus:
		c.handleStatus(msg.Value)

	case messages.TypeError:
		c.appendTranscript(RoleAssistant, "⚠️ "+msg.Error)

	case messages.TypeText:
		c.appendTranscript(RoleAssistant, msg.Text)

	case messages.TypeAudio:
		c.handleAudio(msg.Base64)

	case messages.TypeTurnComplete:
		c.mu.Lock()
		c.scheduleSpeakingOffLocked()
		c.mu.Unlock()
	}
}

func (c *Controller) handleStatus(value string) {
	switch value {
	case messages.StatusUpstreamOpen:
		c.mu.Lock()
		t := c.transport
		lang := c.language
		changed := c.state != StateConnected
		c.state = StateConnected
		c.mu.Unlock()

		if changed {
			c.notifyState(StateConnected)
		}
		if name := lang.DisplayName(); name != "" && t != nil {
			if err := t.Send(messages.NewClientTextMessage(reassertLanguage(name), "")); err != nil {
				c.opts.Log.Warn().Err(err).Msg("failed to re-assert language")
			}
		}

	case messages.StatusUpstreamClosed:
		c.mu.Lock()
		c.setSpeakingLocked(false)
		c.mu.Unlock()

	default:
		if name, ok := messages.ToolName(value); ok && c.opts.OnTool != nil {
			c.opts.OnTool(name)
		}
	}
}

func (c *Controller) handleAudio(b64 string) {
	c.mu.Lock()
	if c.opts.Clock.Now().Before(c.ignoreUntil) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	samples, err := audio.Decode(b64)
	if err != nil {
		c.opts.Log.Debug().Err(err).Msg("dropping undecodable audio")
		return
	}
	out := audio.Resample(samples, audio.OutputRate, c.opts.PlaybackRate)

	c.mu.Lock()
	// a barge-in may have opened the ignore window while decoding
	if c.opts.Clock.Now().Before(c.ignoreUntil) {
		c.mu.Unlock()
		return
	}
	c.setSpeakingLocked(true)
	c.opts.Player.Enqueue(out)
	c.mu.Unlock()

	if c.opts.OnAudio != nil {
		c.opts.OnAudio(samples)
	}
}

// setSpeakingLocked also cancels any pending grace timer
func (c *Controller) setSpeakingLocked(v bool) {
	c.speaking = v
	c.speakingGen++
	if c.speakingOff != nil {
		c.speakingOff.Stop()
		c.speakingOff = nil
	}
}

func (c *Controller) scheduleSpeakingOffLocked() {
	if c.speakingOff != nil {
		c.speakingOff.Stop()
	}
	c.speakingGen++
	gen := c.speakingGen
	c.speakingOff = c.opts.Clock.AfterFunc(speakingGrace, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.speakingGen == gen {
			c.speaking = false
			c.speakingOff = nil
		}
	})
}

func (c *Controller) appendTranscript(role Role, text string) {
	entry := TranscriptEntry{Role: role, Text: text}
	c.mu.Lock()
	c.transcript = append(c.transcript, entry)
	c.mu.Unlock()
	if c.opts.OnTranscript != nil {
		c.opts.OnTranscript(entry)
	}
}

func (c *Controller) notifyState(s State) {
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// SendAudio forwards one encoded block. Blocks are dropped while no transport is open.
func (c *Controller) SendAudio(b64 string) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(messages.NewClientAudioMessage(b64))
}

// SendText sends a typed message. Only allowed while connected.
func (c *Controller) SendText(text string) error {
	trimmed := strings.TrimSpace(text)

	c.mu.Lock()
	t := c.transport
	connected := c.state == StateConnected
	lang := c.language
	c.mu.Unlock()

	if !connected || t == nil {
		return ErrNotConnected
	}
	if trimmed == "" {
		return ErrEmptyText
	}

	wire := trimmed
	if name := lang.DisplayName(); name != "" {
		wire = fmt.Sprintf("Please reply ONLY in %s. %s", name, trimmed)
	}

	if err := t.Send(messages.NewClientTextMessage(wire, lang)); err != nil {
		return err
	}
	c.appendTranscript(RoleUser, trimmed)
	return nil
}

// BargeIn interrupts the assistant. It reports false when debounced.
func (c *Controller) BargeIn() bool {
	c.mu.Lock()
	now := c.opts.Clock.Now()
	if !c.lastBarge.IsZero() && now.Sub(c.lastBarge) < bargeDebounce {
		c.mu.Unlock()
		return false
	}
	c.lastBarge = now

	c.opts.Player.Flush()
	c.ignoreUntil = now.Add(ignoreAfterBarge)
	c.setSpeakingLocked(false)
	t := c.transport
	c.mu.Unlock()

	if t != nil {
		if err := t.Send(messages.NewBargeMessage()); err != nil {
			c.opts.Log.Warn().Err(err).Msg("failed to send barge")
		}
	}
	return true
}

// StartMic begins streaming mic. Only allowed while connected.
func (c *Controller) StartMic(mic Microphone) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.capture != nil {
		c.mu.Unlock()
		return nil
	}
	capture := newCapture(mic, c)
	c.capture = capture
	// the read loop holds the group open while connected
	c.group.Go(capture.run)
	c.mu.Unlock()

	if err := mic.Start(capture.Push); err != nil {
		c.mu.Lock()
		if c.capture == capture {
			c.capture = nil
		}
		c.mu.Unlock()
		_ = capture.Stop()
		return fmt.Errorf("failed to start microphone: %w", err)
	}
	return nil
}

// StopMic releases the microphone
func (c *Controller) StopMic() error {
	c.mu.Lock()
	capture := c.capture
	c.capture = nil
	c.mu.Unlock()

	if capture == nil {
		return nil
	}
	return capture.Stop()
}

// SetLanguage selects the reply language. A connected session is told immediately.
func (c *Controller) SetLanguage(code messages.LanguageCode) {
	lang, _ := messages.LookupLanguage(code)

	c.mu.Lock()
	c.language = lang.Code
	t := c.transport
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && t != nil && lang.Name != "" {
		if err := t.Send(messages.NewClientTextMessage(reassertLanguage(lang.Name), "")); err != nil {
			c.opts.Log.Warn().Err(err).Msg("failed to re-assert language")
		}
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *Controller) Language() messages.LanguageCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Transcript returns a copy of the chat log
func (c *Controller) Transcript() []TranscriptEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TranscriptEntry(nil), c.transcript...)
}

// Activity combines input and output levels into a 0..1 value for meters
func (c *Controller) Activity() float64 {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()

	in := 0.0
	if capture != nil {
		in = capture.Level()
	}
	return math.Min(1, math.Pow(math.Max(in, c.opts.Player.Level())*2.2, 0.75))
}
