package client

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/room4-2/voicebridge/messages"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	done     bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that came due
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.deadline.After(c.now):
			t.done = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type fakeTransport struct {
	frames chan []byte
	done   chan struct{}

	// audioGate, when set before use, holds every audio Send until it is closed
	audioGate chan struct{}

	mu        sync.Mutex
	sent      []*messages.ClientMessage
	sendErr   error
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (t *fakeTransport) Send(msg *messages.ClientMessage) error {
	if t.audioGate != nil && msg.Type == messages.TypeAudio {
		<-t.audioGate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Receive() ([]byte, error) {
	select {
	case data := <-t.frames:
		return data, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *fakeTransport) Sent() []*messages.ClientMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*messages.ClientMessage(nil), t.sent...)
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// waitSent blocks until n envelopes have been sent
func (t *fakeTransport) waitSent(tb testing.TB, n int) {
	tb.Helper()
	require.Eventually(tb, func() bool { return len(t.Sent()) >= n }, time.Second, time.Millisecond)
}

func (t *fakeTransport) SentTypes() []string {
	var types []string
	for _, m := range t.Sent() {
		types = append(types, m.Type)
	}
	return types
}

type fakeDialer struct {
	transport *fakeTransport
	err       error
	urls      []string
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Transport, error) {
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

type fakeMic struct {
	rate int

	mu      sync.Mutex
	onBlock func([]float32)
	stops   int
}

func (m *fakeMic) SampleRate() int { return m.rate }

func (m *fakeMic) Start(onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBlock = onBlock
	return nil
}

func (m *fakeMic) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	return nil
}

func (m *fakeMic) Push(block []float32) {
	m.mu.Lock()
	f := m.onBlock
	m.mu.Unlock()
	f(block)
}

func frame(t *testing.T, msg *messages.ServerMessage) []byte {
	t.Helper()
	data, err := messages.Marshal(msg)
	require.NoError(t, err)
	return data
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
