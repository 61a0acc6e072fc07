package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/voicebridge/messages"
)

const writeTimeout = 10 * time.Second

// ErrNotConnected is returned when there is no open transport
var ErrNotConnected = errors.New("not connected")

// Transport carries envelopes to and from the relay
type Transport interface {
	Send(msg *messages.ClientMessage) error
	// Receive blocks for the next frame. It returns an error once the
	// connection is gone.
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens transports
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials the relay over gorilla/websocket
type WSDialer struct {
	Header http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &WSTransport{conn: conn}, nil
}

// WSTransport is a Transport over one WebSocket connection. Send is safe for
// concurrent use; Receive must be called from a single goroutine.
type WSTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *WSTransport) Send(msg *messages.ClientMessage) error {
	data, err := messages.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
