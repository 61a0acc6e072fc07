package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/room4-2/voicebridge/config"
	"github.com/room4-2/voicebridge/messages"
	"github.com/room4-2/voicebridge/session"
	"github.com/room4-2/voicebridge/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refusingConnector struct{}

func (refusingConnector) Open(context.Context, upstream.Config) (upstream.Session, error) {
	return nil, errors.New("upstream offline")
}

func newTestServer(t *testing.T, maxSessions int, metrics http.Handler) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Port:           0,
		GeminiModel:    "gemini-2.0-flash-live-001",
		MaxSessions:    maxSessions,
		SessionTimeout: time.Minute,
		AllowedOrigins: []string{"https://app.example"},
	}
	mgr := session.NewManager(cfg, session.Options{Connector: refusingConnector{}, Log: zerolog.Nop()}, nil)
	srv := httptest.NewServer(NewServer(cfg, mgr, metrics, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, 10, nil)
	resp, body := get(t, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, body)
}

func TestServer_Config(t *testing.T) {
	srv := newTestServer(t, 10, nil)
	resp, body := get(t, srv.URL+"/config", http.Header{"Origin": {"https://app.example"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"wsUrl":"/ws/client","model":"gemini-2.0-flash-live-001"}`, body)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = get(t, srv.URL+"/config", http.Header{"Origin": {"https://evil.example"}})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_IndexAndNotFound(t *testing.T) {
	srv := newTestServer(t, 10, nil)
	resp, body := get(t, srv.URL+"/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, banner, body)

	resp, _ = get(t, srv.URL+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_MetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	srv := newTestServer(t, 10, metrics)
	_, body := get(t, srv.URL+"/metrics", nil)
	assert.Equal(t, "# metrics", body)
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+WSPath, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readServerMessage(t *testing.T, conn *websocket.Conn) *messages.ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := messages.DecodeServerMessage(data)
	require.NoError(t, err)
	return msg
}

func TestServer_WebSocketRelay(t *testing.T) {
	srv := newTestServer(t, 10, nil)
	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)

	data, err := messages.Marshal(messages.NewStartMessage("", ""))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	msg := readServerMessage(t, conn)
	assert.Equal(t, messages.TypeError, msg.Type)
	assert.Equal(t, "upstream offline", msg.Error)

	_, body := get(t, srv.URL+"/health", nil)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, body)
}

func TestServer_WebSocketOriginRejected(t *testing.T) {
	srv := newTestServer(t, 10, nil)
	_, resp, err := dial(t, srv, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_WebSocketAtCapacity(t *testing.T) {
	srv := newTestServer(t, 0, nil)
	conn, _, err := dial(t, srv, nil)
	require.NoError(t, err)

	msg := readServerMessage(t, conn)
	assert.Equal(t, messages.TypeError, msg.Type)
	assert.Equal(t, session.ErrMaxSessions.Error(), msg.Error)
}
