// Package realtime maintains the persistent push connection to the server.
// Frames are JSON envelopes of the form {"event": name, "data": payload}.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/model"
)

// Event names used on the wire.
const (
	EventJoin         = "join"
	EventNotification = "notification"
)

// ErrAlreadyConnected is returned by Connect when the channel already holds
// a live connection.
var ErrAlreadyConnected = errors.New("realtime channel already connected")

// ErrClosed is returned by Connect when Disconnect was called while the
// handshake was still in flight.
var ErrClosed = errors.New("realtime channel closed during connect")

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Handler receives the raw payload of an event.
type Handler func(data json.RawMessage)

// link is one live connection and its reader state.
type link struct {
	conn    *websocket.Conn
	done    chan struct{}
	closing bool
}

// Channel is a single push connection with one handler per event name.
// Handlers run on the reader goroutine in receive order and must not block.
type Channel struct {
	url              string
	handshakeTimeout time.Duration
	log              *zap.SugaredLogger

	mu       gosync.Mutex
	handlers map[string]Handler
	cur      *link
	done     chan struct{}
	err      error

	writeMu gosync.Mutex
}

// New creates a disconnected channel for the given ws(s):// URL.
func New(url string, handshakeTimeout time.Duration, log *zap.SugaredLogger) *Channel {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	done := make(chan struct{})
	close(done)
	return &Channel{
		url:              url,
		handshakeTimeout: handshakeTimeout,
		log:              log,
		handlers:         make(map[string]Handler),
		done:             done,
	}
}

// Connect dials the server with the bearer token and announces userID with
// a join frame. Only one connection may be live at a time.
func (c *Channel) Connect(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	// Reserve the slot so a concurrent Connect fails fast.
	reserved := &link{done: make(chan struct{})}
	c.cur = reserved
	c.mu.Unlock()

	conn, err := c.dial(ctx, token)
	if err == nil {
		err = c.write(conn, Envelope{Event: EventJoin, Data: mustJSON(userID)})
		if err != nil {
			conn.Close()
			err = &api.TransientError{Message: "sending join", Err: err}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.cur = nil
		return err
	}
	if reserved.closing {
		c.cur = nil
		conn.Close()
		return ErrClosed
	}
	reserved.conn = conn
	c.done = reserved.done
	c.err = nil

	go c.readLoop(reserved)

	c.log.Infow("realtime connected", "url", c.url, "user", userID)
	return nil
}

func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.handshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &api.AuthError{StatusCode: resp.StatusCode, Message: "socket handshake rejected", Err: err}
		}
		return nil, &api.TransientError{Message: fmt.Sprintf("dialing %s", c.url), Err: err}
	}
	return conn, nil
}

// OnEvent registers the handler for event, replacing any previous one.
// A nil handler unregisters the event.
func (c *Channel) OnEvent(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = h
}

// OnNotification registers a typed handler for notification pushes.
// Malformed payloads are logged and dropped.
func (c *Channel) OnNotification(fn func(model.Notification)) {
	if fn == nil {
		c.OnEvent(EventNotification, nil)
		return
	}
	c.OnEvent(EventNotification, func(data json.RawMessage) {
		var n model.Notification
		if err := json.Unmarshal(data, &n); err != nil || n.ID == "" {
			c.log.Warnw("dropping malformed notification push", "error", err, "payload", string(data))
			return
		}
		fn(n)
	})
}

// Emit sends an event on the live connection.
func (c *Channel) Emit(event string, data interface{}) error {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()
	if cur == nil || cur.conn == nil {
		return &api.TransientError{Message: "realtime channel not connected"}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	if err := c.write(cur.conn, Envelope{Event: event, Data: raw}); err != nil {
		return &api.TransientError{Message: "writing " + event, Err: err}
	}
	return nil
}

// Disconnect closes the connection. Calling it on a closed channel is a
// no-op. Handlers stop once Done is closed.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	cur := c.cur
	if cur == nil || cur.closing {
		c.mu.Unlock()
		return nil
	}
	cur.closing = true
	if cur.conn == nil {
		// Still dialing; Connect will drop the connection.
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = cur.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	if err := cur.conn.Close(); err != nil {
		return fmt.Errorf("closing realtime connection: %w", err)
	}
	c.log.Infow("realtime disconnected", "url", c.url)
	return nil
}

// Connected reports whether a connection is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil && c.cur.conn != nil && !c.cur.closing
}

// Done is closed when the reader of the current connection exits. Before
// the first Connect it is already closed.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err reports why the last connection ended. It is nil while connected and
// after a client-initiated Disconnect.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) readLoop(l *link) {
	var readErr error
	defer func() {
		c.mu.Lock()
		if !l.closing {
			c.err = &api.TransientError{Message: "realtime connection lost", Err: readErr}
			c.log.Warnw("realtime connection lost", "error", readErr)
		}
		if c.cur == l {
			c.cur = nil
		}
		c.mu.Unlock()
		close(l.done)
	}()

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.log.Warnw("dropping malformed frame", "error", err, "frame", string(data))
			continue
		}

		c.mu.Lock()
		h := c.handlers[env.Event]
		c.mu.Unlock()
		if h == nil {
			c.log.Debugw("no handler for event", "event", env.Event)
			continue
		}
		h(env.Data)
	}
}

func (c *Channel) write(conn *websocket.Conn, env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.handshakeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.handshakeTimeout))
	}
	return conn.WriteJSON(env)
}

func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
