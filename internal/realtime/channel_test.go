package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/model"
)

// socketServer accepts one connection at a time and exposes it to the test.
type socketServer struct {
	srv   *httptest.Server
	auth  chan string
	conns chan *websocket.Conn
}

func newSocketServer(t *testing.T) *socketServer {
	t.Helper()
	s := &socketServer{
		auth:  make(chan string, 4),
		conns: make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.auth <- r.Header.Get("Authorization")
		s.conns <- conn
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *socketServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *socketServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func TestConnectSendsJoinWithBearer(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"))
	defer ch.Disconnect()

	conn := s.accept(t)
	assert.Equal(t, "Bearer tok", receive(t, s.auth))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, EventJoin, env.Event)
	assert.JSONEq(t, `"u1"`, string(env.Data))
	assert.True(t, ch.Connected())
}

func TestConnectTwiceFails(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"))
	defer ch.Disconnect()
	s.accept(t)

	assert.ErrorIs(t, ch.Connect(context.Background(), "tok", "u1"), ErrAlreadyConnected)
}

func TestHandshakeRejectedIsAuthError(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	err := ch.Connect(context.Background(), "bad", "u1")
	require.Error(t, err)
	assert.True(t, api.IsAuthError(err))
	assert.False(t, ch.Connected())
}

func TestNotificationDeliveredInOrder(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	got := make(chan model.Notification, 8)
	ch.OnNotification(func(n model.Notification) { got <- n })

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"))
	defer ch.Disconnect()
	conn := s.accept(t)

	send(t, conn, EventNotification, model.Notification{ID: "n1", Message: "first"})
	send(t, conn, EventNotification, map[string]any{"_id": 42})
	send(t, conn, EventNotification, map[string]any{"message": "no id"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	send(t, conn, "unknown", "x")
	send(t, conn, EventNotification, model.Notification{ID: "n2", Message: "second"})

	assert.Equal(t, "n1", receive(t, got).ID)
	assert.Equal(t, "n2", receive(t, got).ID)
	assert.True(t, ch.Connected(), "malformed frames must not drop the connection")
}

func TestOnEventReplacesAndUnregisters(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	first := make(chan string, 4)
	second := make(chan string, 4)
	ch.OnEvent("ping", func(data json.RawMessage) { first <- string(data) })
	ch.OnEvent("ping", func(data json.RawMessage) { second <- string(data) })

	marker := make(chan struct{}, 4)
	ch.OnEvent("marker", func(json.RawMessage) { marker <- struct{}{} })

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"))
	defer ch.Disconnect()
	conn := s.accept(t)

	send(t, conn, "ping", 1)
	assert.Equal(t, "1", receive(t, second))

	ch.OnEvent("ping", nil)
	send(t, conn, "ping", 2)
	send(t, conn, "marker", nil)
	receive(t, marker)

	assert.Empty(t, first)
	assert.Empty(t, second)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	assert.NoError(t, ch.Disconnect(), "disconnect before connect")

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"))
	s.accept(t)

	require.NoError(t, ch.Disconnect())
	require.NoError(t, ch.Disconnect())

	receive(t, ch.Done())
	assert.NoError(t, ch.Err())
	assert.False(t, ch.Connected())

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"), "reconnect after disconnect")
	s.accept(t)
	require.NoError(t, ch.Disconnect())
}

func TestServerCloseReportsTransient(t *testing.T) {
	s := newSocketServer(t)
	ch := New(s.url(), time.Second, nil)

	require.NoError(t, ch.Connect(context.Background(), "tok", "u1"))
	conn := s.accept(t)
	conn.Close()

	receive(t, ch.Done())
	assert.True(t, api.IsTransient(ch.Err()))
	assert.False(t, ch.Connected())
}
