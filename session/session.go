package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/voicebridge/audio"
	"github.com/room4-2/voicebridge/functions"
	"github.com/room4-2/voicebridge/logger"
	"github.com/room4-2/voicebridge/messages"
	"github.com/room4-2/voicebridge/observe"
	"github.com/room4-2/voicebridge/upstream"
	"github.com/rs/zerolog"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	maxMessageSize  = 512 * 1024
)

// DocumentQA answers a user question against the reference document
type DocumentQA interface {
	Available() bool
	Answer(ctx context.Context, question, languageHint string) (string, error)
}

// Options are the collaborators shared by every session
type Options struct {
	Connector  upstream.Connector
	Model      string
	Voice      string
	Generation upstream.GenerationConfig
	DocQA      DocumentQA // nil disables document augmentation
	Metrics    *observe.Metrics
	Log        zerolog.Logger
}

// ClientSession relays one client WebSocket onto at most one upstream live session
type ClientSession struct {
	ID           string
	ClientConn   *websocket.Conn
	CreatedAt    time.Time
	LastActivity time.Time

	opts    Options
	log     zerolog.Logger
	metrics *observe.Metrics

	// Use channels for non-blocking writes
	writeChan chan *messages.ServerMessage

	mu         sync.RWMutex
	closed     bool
	upstream   upstream.Session
	generation uint64 // bumped whenever upstream is replaced or dropped
	language   messages.LanguageCode

	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession creates a session with no upstream; the client opens one with "start"
func NewClientSession(id string, clientConn *websocket.Conn, opts Options) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(maxMessageSize)
	clientConn.EnableWriteCompression(true)

	if opts.Metrics == nil {
		opts.Metrics = observe.Discard()
	}
	if opts.Generation == (upstream.GenerationConfig{}) {
		opts.Generation = upstream.DefaultGenerationConfig
	}

	now := time.Now()
	return &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    now,
		LastActivity: now,
		opts:         opts,
		log:          opts.Log.With().Str("session", logger.ShortID(id)).Logger(),
		metrics:      opts.Metrics,
		writeChan:    make(chan *messages.ServerMessage, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the write pump and the read loop
func (cs *ClientSession) Start() {
	go cs.writePump()
	go cs.handleClientMessages()
}

func (cs *ClientSession) writePump() {
	defer func() {
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case msg, ok := <-cs.writeChan:
			if !ok {
				return
			}
			if err := cs.write(msg); err != nil {
				cs.log.Debug().Err(err).Msg("client write failed")
				go cs.Close()
				return
			}
		}
	}
}

func (cs *ClientSession) write(msg *messages.ServerMessage) error {
	data, err := messages.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage hands msg to the write pump. Frames are dropped when the
// client cannot keep up.
func (cs *ClientSession) queueMessage(msg *messages.ServerMessage) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.closed {
		return
	}
	select {
	case cs.writeChan <- msg:
	default:
		cs.log.Warn().Str("type", msg.Type).Msg("write buffer full, dropping message")
	}
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

// Idle returns how long the client has been silent
func (cs *ClientSession) Idle(now time.Time) time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return now.Sub(cs.LastActivity)
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		_, data, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.log.Warn().Err(err).Msg("client read error")
			}
			return
		}
		cs.touch()

		msg, err := messages.DecodeClientMessage(data)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(messages.ErrTextInvalidJSON))
			continue
		}

		cs.processClientMessage(msg)
	}
}

// processClientMessage handles one envelope to completion before the next is read
func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	if msg.Type == messages.TypeStart {
		cs.handleStart(msg)
		return
	}

	up := cs.currentUpstream()
	if up == nil {
		cs.queueMessage(messages.NewErrorMessage(messages.ErrTextSessionNotStarted))
		return
	}

	switch msg.Type {
	case messages.TypeAudio:
		cs.handleAudio(up, msg)
	case messages.TypeText:
		cs.handleText(up, msg)
	case messages.TypeStop:
	case messages.TypeBarge:
		cs.handleBarge(up)
	default:
		cs.queueMessage(messages.NewErrorMessage(fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

func (cs *ClientSession) handleStart(msg *messages.ClientMessage) {
	cs.mu.Lock()
	old := cs.upstream
	cs.upstream = nil
	cs.generation++
	cs.language = msg.Language
	cs.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			cs.log.Debug().Err(err).Msg("closing previous upstream")
		}
	}

	system := msg.System
	if system == "" {
		system = DefaultSystemPrompt
	}

	up, err := cs.opts.Connector.Open(cs.ctx, upstream.Config{
		Model:             cs.opts.Model,
		SystemInstruction: system,
		Voice:             cs.opts.Voice,
		Generation:        cs.opts.Generation,
	})
	cs.metrics.UpstreamOpened(cs.ctx, err)
	if err != nil {
		cs.log.Error().Err(err).Msg("❌ failed to open upstream session")
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(err, messages.ErrTextOpenFailed)))
		return
	}

	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		_ = up.Close()
		return
	}
	cs.generation++
	gen := cs.generation
	cs.upstream = up
	cs.mu.Unlock()

	cs.log.Info().Str("language", string(msg.Language)).Msg("✅ upstream session started")
	go cs.pumpEvents(gen, up)
}

// pumpEvents forwards upstream events until the stream ends. Events from an
// upstream that has since been replaced are drained and dropped.
func (cs *ClientSession) pumpEvents(gen uint64, up upstream.Session) {
	for ev := range up.Events() {
		if !cs.isCurrent(gen) {
			continue
		}
		cs.forward(ev)
	}
}

func (cs *ClientSession) forward(ev upstream.Event) {
	switch ev.Kind {
	case upstream.EventOpened:
		cs.queueMessage(messages.NewStatusMessage(messages.StatusUpstreamOpen))
	case upstream.EventAudio:
		cs.metrics.AudioFrame(cs.ctx, observe.DirectionDown)
		cs.queueMessage(messages.NewAudioMessage(base64.StdEncoding.EncodeToString(ev.Audio)))
	case upstream.EventText:
		cs.queueMessage(messages.NewTextMessage(ev.Text))
	case upstream.EventTurnComplete:
		cs.queueMessage(messages.NewTurnCompleteMessage())
	case upstream.EventError:
		cs.metrics.UpstreamError(cs.ctx)
		cs.log.Error().Err(ev.Err).Msg("upstream error")
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(ev.Err, messages.ErrTextUpstream)))
	case upstream.EventClosed:
		cs.log.Info().Msg("🔌 upstream session closed")
		cs.queueMessage(messages.NewStatusMessage(messages.StatusUpstreamClosed))
	}
}

func (cs *ClientSession) handleAudio(up upstream.Session, msg *messages.ClientMessage) {
	pcm, err := base64.StdEncoding.DecodeString(msg.Base64)
	if err != nil {
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(err, messages.ErrTextAudioSend)))
		return
	}
	cs.metrics.AudioFrame(cs.ctx, observe.DirectionUp)
	if err := up.SendAudio(cs.ctx, pcm, audio.InputMIMEType); err != nil {
		cs.log.Warn().Err(err).Msg("failed to send audio upstream")
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(err, messages.ErrTextAudioSend)))
	}
}

func (cs *ClientSession) handleText(up upstream.Session, msg *messages.ClientMessage) {
	if cs.opts.DocQA != nil && cs.opts.DocQA.Available() && cs.askDocument(up, msg) {
		return
	}
	if err := up.SendText(cs.ctx, msg.Text); err != nil {
		cs.log.Warn().Err(err).Msg("failed to send text upstream")
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(err, messages.ErrTextTextSend)))
	}
}

// askDocument answers msg from the reference document and has the model speak
// the result. It returns false when the raw text should be forwarded instead.
func (cs *ClientSession) askDocument(up upstream.Session, msg *messages.ClientMessage) bool {
	cs.queueMessage(messages.NewToolStatusMessage(functions.ToolName))

	started := time.Now()
	answer, err := cs.opts.DocQA.Answer(cs.ctx, msg.Text, cs.languageHint(msg.Language))
	if err != nil {
		outcome := observe.OutcomeFailed
		if errors.Is(err, functions.ErrDocUnavailable) {
			outcome = observe.OutcomeUnavailable
		}
		cs.metrics.DocQuery(cs.ctx, outcome, time.Since(started))
		cs.log.Warn().Err(err).Msg("document QA failed, forwarding raw text")
		return false
	}
	cs.metrics.DocQuery(cs.ctx, observe.OutcomeAnswered, time.Since(started))

	if answer != "" {
		cs.queueMessage(messages.NewTextMessage(answer))
	}

	result := answer
	if result == "" {
		result = noAnswerFound
	}
	if err := up.SendToolResult(cs.ctx, docToolLabel, result, relayInstruction); err != nil {
		cs.log.Warn().Err(err).Msg("failed to send tool result upstream")
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(err, messages.ErrTextTextSend)))
	}
	return true
}

// languageHint is the language named by the envelope, else the one chosen at start
func (cs *ClientSession) languageHint(lang messages.LanguageCode) string {
	if name := lang.DisplayName(); name != "" {
		return name
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.language.DisplayName()
}

func (cs *ClientSession) handleBarge(up upstream.Session) {
	cs.metrics.BargeIn(cs.ctx)
	if err := up.CancelResponse(cs.ctx); err != nil {
		cs.log.Warn().Err(err).Msg("barge cancel failed")
		cs.queueMessage(messages.NewErrorMessage(messages.ErrorText(err, messages.ErrTextBargeCancel)))
		return
	}
	cs.log.Debug().Msg("✋ barge-in")
	cs.queueMessage(messages.NewStatusMessage(messages.StatusUpstreamClosed))
}

func (cs *ClientSession) currentUpstream() upstream.Session {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.upstream
}

func (cs *ClientSession) isCurrent(gen uint64) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return !cs.closed && cs.generation == gen
}

// Close tears down the client connection and its upstream. Safe to call more than once.
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	up := cs.upstream
	cs.upstream = nil
	cs.generation++
	close(cs.writeChan)
	close(cs.CloseChan)
	cs.mu.Unlock()

	cs.cancel()

	if up != nil {
		if err := up.Close(); err != nil {
			cs.log.Debug().Err(err).Msg("closing upstream")
		}
	}

	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}
