// Package gemini adapts the Gemini Live API (google.golang.org/genai) to the
// upstream.Session interface.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"github.com/room4-2/voicebridge/upstream"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.0-flash-live-001"

const eventBufferSize = 64

// liveConn is the subset of *genai.Session the proxy needs.
type liveConn interface {
	Receive() (*genai.LiveServerMessage, error)
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveSendClientContentParameters) error
	Close() error
}

var (
	_ upstream.Connector = (*Connector)(nil)
	_ upstream.Session   = (*Proxy)(nil)
	_ liveConn           = (*genai.Session)(nil)
)

// Connector opens Gemini Live sessions with one shared GenAI client
type Connector struct {
	client *genai.Client
	log    zerolog.Logger
}

// NewConnector creates the GenAI client used for all live sessions
func NewConnector(ctx context.Context, apiKey string, log zerolog.Logger) (*Connector, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Connector{client: client, log: log.With().Str("component", "gemini").Logger()}, nil
}

// Client exposes the underlying GenAI client so other collaborators can share it
func (c *Connector) Client() *genai.Client {
	return c.client
}

// Open connects a new Live session. The Opened event is queued before Open returns.
func (c *Connector) Open(ctx context.Context, cfg upstream.Config) (upstream.Session, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	session, err := c.client.Live.Connect(ctx, model, liveConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}

	c.log.Info().Str("model", model).Msg("connected to Gemini Live")
	return newProxy(session, c.log), nil
}

func liveConfig(cfg upstream.Config) *genai.LiveConnectConfig {
	temperature := cfg.Generation.Temperature
	topP := cfg.Generation.TopP

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: cfg.SystemInstruction},
			},
		},
		Temperature: &temperature,
		TopP:        &topP,
	}
	if cfg.Voice != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: cfg.Voice, // Puck, Charon, Kore, Fenrir, Aoede, Leda, Orus, Zephyr
				},
			},
		}
	}
	return config
}

// Proxy is one open Gemini Live session
type Proxy struct {
	conn   liveConn
	events chan upstream.Event
	log    zerolog.Logger

	mu        sync.Mutex
	closed    bool
	inTurn    bool // model output seen since the last turn boundary
	suppress  bool // drop model output until the current turn ends
	sendMu    sync.Mutex
	closeOnce sync.Once
}

func newProxy(conn liveConn, log zerolog.Logger) *Proxy {
	p := &Proxy{
		conn:   conn,
		events: make(chan upstream.Event, eventBufferSize),
		log:    log,
	}
	p.events <- upstream.Event{Kind: upstream.EventOpened}

	go p.receive()
	return p
}

// Events returns the session's event stream
func (p *Proxy) Events() <-chan upstream.Event {
	return p.events
}

func (p *Proxy) receive() {
	defer close(p.events)

	for {
		resp, err := p.conn.Receive()
		if err != nil {
			if !p.isClosed() {
				p.log.Error().Err(err).Msg("Gemini receive error")
				p.events <- upstream.Event{Kind: upstream.EventError, Err: err}
			}
			p.events <- upstream.Event{Kind: upstream.EventClosed}
			return
		}
		p.handleResponse(resp)
	}
}

func (p *Proxy) handleResponse(resp *genai.LiveServerMessage) {
	if resp.GoAway != nil {
		p.log.Warn().Msg("Gemini announced session shutdown")
	}

	sc := resp.ServerContent
	if sc == nil {
		return
	}

	if sc.ModelTurn != nil {
		p.mu.Lock()
		p.inTurn = true
		drop := p.suppress
		p.mu.Unlock()

		if !drop {
			for _, part := range sc.ModelTurn.Parts {
				if part.Text != "" {
					p.events <- upstream.Event{Kind: upstream.EventText, Text: part.Text}
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					p.log.Debug().Int("bytes", len(part.InlineData.Data)).Msg("audio from Gemini")
					p.events <- upstream.Event{Kind: upstream.EventAudio, Audio: part.InlineData.Data}
				}
			}
		}
	}

	if sc.Interrupted || sc.TurnComplete {
		p.mu.Lock()
		p.inTurn = false
		p.suppress = false
		p.mu.Unlock()
	}

	if sc.TurnComplete {
		p.events <- upstream.Event{Kind: upstream.EventTurnComplete}
	}
}

// SendAudio forwards a realtime audio chunk
func (p *Proxy) SendAudio(ctx context.Context, pcm []byte, mimeType string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	err := p.conn.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: mimeType,
			Data:     pcm,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// SendText sends a complete user turn
func (p *Proxy) SendText(ctx context.Context, text string) error {
	return p.sendTurns(ctx, text)
}

// SendToolResult injects a tool result and a follow-up instruction as one turn
func (p *Proxy) SendToolResult(ctx context.Context, tool, result, followUp string) error {
	return p.sendTurns(ctx, fmt.Sprintf("Tool result (%s): %s", tool, result), followUp)
}

func (p *Proxy) sendTurns(ctx context.Context, texts ...string) error {
	if err := p.ready(ctx); err != nil {
		return err
	}

	turns := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		turns = append(turns, &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: t}},
		})
	}
	turnComplete := true

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	err := p.conn.SendClientContent(genai.LiveSendClientContentParameters{
		Turns:        turns,
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// CancelResponse drops the rest of the in-flight model turn. The Live API has
// no cancel message; the model stops generating once fresh user audio arrives,
// and anything it still streams for the old turn is discarded here.
func (p *Proxy) CancelResponse(ctx context.Context) error {
	if err := p.ready(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inTurn {
		p.suppress = true
	}
	return nil
}

// Close terminates the Gemini connection. The receiver then emits EventClosed
// and closes the event channel.
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		err = p.conn.Close()
	})
	return err
}

func (p *Proxy) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isClosed() {
		return upstream.ErrClosed
	}
	return nil
}

func (p *Proxy) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
