package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/room4-2/voicebridge/audio"
	"github.com/room4-2/voicebridge/messages"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	c         *Controller
	clock     *fakeClock
	transport *fakeTransport
	player    *audio.Player
}

func newHarness(t *testing.T, lang messages.LanguageCode) *harness {
	t.Helper()
	h := &harness{
		clock:     newFakeClock(),
		transport: newFakeTransport(),
		player:    audio.NewPlayer(),
	}
	h.c = NewController(Options{
		URL:      "ws://relay/ws/client",
		Language: lang,
		Dialer:   &fakeDialer{transport: h.transport},
		Clock:    h.clock,
		Player:   h.player,
		Log:      zerolog.Nop(),
	})
	t.Cleanup(func() { _ = h.c.Disconnect() })
	return h
}

// connect dials and delivers upstream_open without going through the read loop
func (h *harness) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, h.c.Connect(context.Background()))
	h.c.handleFrame(frame(t, messages.NewStatusMessage(messages.StatusUpstreamOpen)))
	require.Equal(t, StateConnected, h.c.State())
}

func (h *harness) audioFrame(t *testing.T, n int) {
	t.Helper()
	h.c.handleFrame(frame(t, messages.NewAudioMessage(audio.Encode(constant(n, 0.1)))))
}

func TestConnect_SendsStart(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	var states []State
	h.c.opts.OnState = func(s State) { states = append(states, s) }

	require.NoError(t, h.c.Connect(context.Background()))
	assert.Equal(t, StateConnecting, h.c.State())

	sent := h.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.TypeStart, sent[0].Type)
	assert.Equal(t, messages.LanguageAuto, sent[0].Language)
	assert.True(t, strings.HasPrefix(sent[0].System, DefaultPersona))
	assert.Contains(t, sent[0].System, "Detect the user's language")
	assert.Contains(t, sent[0].System, translateRule)

	h.c.handleFrame(frame(t, messages.NewStatusMessage(messages.StatusUpstreamOpen)))
	assert.Equal(t, StateConnected, h.c.State())
	// auto language does not re-assert
	assert.Len(t, h.transport.Sent(), 1)
	assert.Equal(t, []State{StateConnecting, StateConnected}, states)

	assert.ErrorIs(t, h.c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConnect_DialFailure(t *testing.T) {
	c := NewController(Options{
		Dialer: &fakeDialer{err: errors.New("refused")},
		Clock:  newFakeClock(),
		Log:    zerolog.Nop(),
	})
	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_FixedLanguageReasserts(t *testing.T) {
	h := newHarness(t, messages.LanguageHindi)
	h.connect(t)

	sent := h.transport.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, messages.LanguageHindi, sent[0].Language)
	assert.Contains(t, sent[0].System, "Always reply in Hindi.")
	assert.Equal(t, messages.TypeText, sent[1].Type)
	assert.Equal(t, "From now on, reply ONLY in Hindi. If I use another language, translate and answer in Hindi.", sent[1].Text)
}

func TestSpeaking_ClearsAfterGrace(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	h.audioFrame(t, 480)
	h.audioFrame(t, 480)
	assert.True(t, h.c.Speaking())
	assert.Equal(t, 960, h.player.Buffered())
	assert.Equal(t, 2, h.player.ChunkCount())

	h.c.handleFrame(frame(t, messages.NewTurnCompleteMessage()))
	assert.True(t, h.c.Speaking())

	h.clock.Advance(249 * time.Millisecond)
	assert.True(t, h.c.Speaking())

	h.clock.Advance(time.Millisecond)
	assert.False(t, h.c.Speaking())
}

func TestSpeaking_NewAudioCancelsGrace(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	h.audioFrame(t, 480)
	h.c.handleFrame(frame(t, messages.NewTurnCompleteMessage()))
	h.clock.Advance(100 * time.Millisecond)

	h.audioFrame(t, 480)
	h.clock.Advance(time.Second)
	assert.True(t, h.c.Speaking())
}

func TestSpeaking_UpstreamClosedClears(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	h.audioFrame(t, 480)
	h.c.handleFrame(frame(t, messages.NewStatusMessage(messages.StatusUpstreamClosed)))
	assert.False(t, h.c.Speaking())
}

func TestAudio_ResampledToDeviceRate(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.c.opts.PlaybackRate = 48000
	h.connect(t)

	h.audioFrame(t, 480)
	assert.Equal(t, 960, h.player.Buffered())
}

func TestBargeIn_LoudBlockWhileSpeaking(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	heard := 0
	h.c.opts.OnAudio = func(s []float32) { heard += len(s) }
	h.connect(t)
	mic := &fakeMic{rate: 48000}
	require.NoError(t, h.c.StartMic(mic))

	h.audioFrame(t, 480)
	require.True(t, h.c.Speaking())

	mic.Push(constant(4096, 0.5))
	h.transport.waitSent(t, 3)

	assert.Equal(t, []string{messages.TypeStart, messages.TypeAudio, messages.TypeBarge}, h.transport.SentTypes())
	assert.Equal(t, 0, h.player.Buffered())
	assert.False(t, h.c.Speaking())

	// audio still in flight from the interrupted turn is dropped
	h.clock.Advance(299 * time.Millisecond)
	h.audioFrame(t, 480)
	assert.Equal(t, 0, h.player.Buffered())
	assert.False(t, h.c.Speaking())

	h.clock.Advance(time.Millisecond)
	h.audioFrame(t, 480)
	assert.Equal(t, 480, h.player.Buffered())
	assert.True(t, h.c.Speaking())
	assert.Equal(t, 960, heard)
}

func TestBargeIn_QuietBlockDoesNotInterrupt(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)
	mic := &fakeMic{rate: 16000}
	require.NoError(t, h.c.StartMic(mic))

	h.audioFrame(t, 480)
	// blocks are handled in order, so a barge from the first would precede the second audio
	mic.Push(constant(1024, 0.001))
	mic.Push(constant(1024, 0.001))
	h.transport.waitSent(t, 3)

	assert.Equal(t, []string{messages.TypeStart, messages.TypeAudio, messages.TypeAudio}, h.transport.SentTypes())
	assert.True(t, h.c.Speaking())
}

func TestBargeIn_NotWhileSilent(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)
	mic := &fakeMic{rate: 16000}
	require.NoError(t, h.c.StartMic(mic))

	mic.Push(constant(1024, 0.5))
	mic.Push(constant(1024, 0.5))
	h.transport.waitSent(t, 3)
	assert.Equal(t, []string{messages.TypeStart, messages.TypeAudio, messages.TypeAudio}, h.transport.SentTypes())
}

func TestMic_SlowTransportDoesNotBlockDevice(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	gate := make(chan struct{})
	h.transport.audioGate = gate
	h.connect(t)
	t.Cleanup(func() { close(gate) })

	mic := &fakeMic{rate: 16000}
	require.NoError(t, h.c.StartMic(mic))

	pushed := make(chan struct{})
	go func() {
		defer close(pushed)
		for i := 0; i < 4*captureQueue; i++ {
			mic.Push(constant(1024, 0.1))
		}
	}()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("device callback blocked on a stalled transport")
	}

	// playback and barge-in keep working while a send is stuck
	h.audioFrame(t, 480)
	assert.Equal(t, 480, h.player.Buffered())
	assert.True(t, h.c.BargeIn())
	assert.Equal(t, 0, h.player.Buffered())
}

func TestBargeIn_Debounced(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	assert.True(t, h.c.BargeIn())
	h.player.Enqueue(constant(100, 0.1))

	// a debounced call flushes nothing and sends nothing
	h.clock.Advance(100 * time.Millisecond)
	assert.False(t, h.c.BargeIn())
	assert.Equal(t, 100, h.player.Buffered())
	assert.Equal(t, []string{messages.TypeStart, messages.TypeBarge}, h.transport.SentTypes())

	h.clock.Advance(150 * time.Millisecond)
	assert.True(t, h.c.BargeIn())
	assert.Equal(t, 0, h.player.Buffered())

	assert.Equal(t, []string{messages.TypeStart, messages.TypeBarge, messages.TypeBarge}, h.transport.SentTypes())
}

func TestBargeIn_CancelsPendingGrace(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	h.audioFrame(t, 480)
	h.c.handleFrame(frame(t, messages.NewTurnCompleteMessage()))
	require.True(t, h.c.BargeIn())
	assert.False(t, h.c.Speaking())

	h.clock.Advance(time.Second)
	assert.False(t, h.c.Speaking())
}

func TestSendText(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	assert.ErrorIs(t, h.c.SendText("hello"), ErrNotConnected)

	h.connect(t)
	assert.ErrorIs(t, h.c.SendText("   "), ErrEmptyText)

	require.NoError(t, h.c.SendText("  What is the range?  "))
	sent := h.transport.Sent()
	last := sent[len(sent)-1]
	assert.Equal(t, messages.TypeText, last.Type)
	assert.Equal(t, "What is the range?", last.Text)
	assert.Equal(t, messages.LanguageAuto, last.Language)

	assert.Equal(t, []TranscriptEntry{{Role: RoleUser, Text: "What is the range?"}}, h.c.Transcript())
}

func TestSendText_FailedSendLeavesTranscript(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	h.transport.setSendErr(errors.New("broken pipe"))
	assert.EqualError(t, h.c.SendText("hello"), "broken pipe")
	assert.Empty(t, h.c.Transcript())
}

func TestSendText_FixedLanguagePrefix(t *testing.T) {
	h := newHarness(t, messages.LanguageTamil)
	h.connect(t)

	require.NoError(t, h.c.SendText("hello"))
	sent := h.transport.Sent()
	last := sent[len(sent)-1]
	assert.Equal(t, "Please reply ONLY in Tamil. hello", last.Text)
	assert.Equal(t, messages.LanguageTamil, last.Language)
	assert.Equal(t, "hello", h.c.Transcript()[0].Text)
}

func TestSetLanguage_ReassertsWhenConnected(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.c.SetLanguage("KN")
	assert.Equal(t, messages.LanguageKannada, h.c.Language())
	assert.Empty(t, h.transport.Sent())

	h.c.SetLanguage(messages.LanguageAuto)
	h.connect(t)
	h.c.SetLanguage(messages.LanguageBengali)

	sent := h.transport.Sent()
	last := sent[len(sent)-1]
	assert.Equal(t, messages.TypeText, last.Type)
	assert.True(t, strings.HasPrefix(last.Text, "From now on, reply ONLY in Bengali."))
}

func TestTranscript_ServerMessages(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	var tools []string
	h.c.opts.OnTool = func(name string) { tools = append(tools, name) }
	h.connect(t)

	h.c.handleFrame(frame(t, messages.NewToolStatusMessage("doc_qa")))
	h.c.handleFrame(frame(t, messages.NewTextMessage("The range is 150 km.")))
	h.c.handleFrame(frame(t, messages.NewErrorMessage("upstream_error")))

	assert.Equal(t, []string{"doc_qa"}, tools)
	assert.Equal(t, []TranscriptEntry{
		{Role: RoleAssistant, Text: "The range is 150 km."},
		{Role: RoleAssistant, Text: "⚠️ upstream_error"},
	}, h.c.Transcript())
}

func TestMalformedFramesIgnored(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	h.connect(t)

	for _, raw := range []string{
		`not json`,
		`{"type":"bogus"}`,
		`{"type":"audio"}`,
		`{"type":"status"}`,
		`{"type":"error"}`,
		`{"type":"audio","base64":"!!!"}`,
	} {
		h.c.handleFrame([]byte(raw))
	}

	assert.Empty(t, h.c.Transcript())
	assert.Equal(t, 0, h.player.Buffered())
	assert.False(t, h.c.Speaking())
	assert.Equal(t, StateConnected, h.c.State())
}

func TestMic_OnlyWhileConnected(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	mic := &fakeMic{rate: 16000}
	assert.ErrorIs(t, h.c.StartMic(mic), ErrNotConnected)

	require.NoError(t, h.c.Connect(context.Background()))
	assert.ErrorIs(t, h.c.StartMic(mic), ErrNotConnected)

	h.c.handleFrame(frame(t, messages.NewStatusMessage(messages.StatusUpstreamOpen)))
	require.NoError(t, h.c.StartMic(mic))

	require.NoError(t, h.c.Disconnect())
	assert.Equal(t, 1, mic.stops)
	assert.NoError(t, h.c.StopMic())
	assert.Equal(t, 1, mic.stops)
}

func TestSendAudio_WithoutTransport(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	assert.ErrorIs(t, h.c.SendAudio("AAA="), ErrNotConnected)
}

func TestServerClose_Disconnects(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	require.NoError(t, h.c.Connect(context.Background()))

	h.transport.frames <- frame(t, messages.NewStatusMessage(messages.StatusUpstreamOpen))
	require.Eventually(t, func() bool { return h.c.State() == StateConnected }, time.Second, 5*time.Millisecond)

	mic := &fakeMic{rate: 16000}
	require.NoError(t, h.c.StartMic(mic))

	_ = h.transport.Close()
	require.NoError(t, h.c.Wait())
	assert.Equal(t, StateDisconnected, h.c.State())
	assert.Equal(t, 1, mic.stops)
	assert.ErrorIs(t, h.c.SendText("hi"), ErrNotConnected)
}

func TestActivity(t *testing.T) {
	h := newHarness(t, messages.LanguageAuto)
	assert.Equal(t, 0.0, h.c.Activity())

	h.player.Enqueue(constant(100, 1))
	assert.Equal(t, 1.0, h.c.Activity())
}
