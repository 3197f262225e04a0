// Package sync keeps the real-time channel connected for the life of a
// session and turns push deliveries and state changes into Bubble Tea
// messages.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

// ChannelState represents the current state of the push connection.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelLive
	ChannelDown
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelLive:
		return "live"
	case ChannelDown:
		return "offline"
	default:
		return "idle"
	}
}

// ChannelStatus holds the connection state and when it last changed.
type ChannelStatus struct {
	State     ChannelState
	Since     time.Time
	LastEvent time.Time
	Error     error
}

// PushMsg is a tea.Msg sent when a notification push was applied to the
// store.
type PushMsg struct {
	Notification model.Notification
}

// ChannelStatusMsg is a tea.Msg sent when the connection state changes.
type ChannelStatusMsg struct {
	Status ChannelStatus
}

// AuthErrorMsg is a tea.Msg sent when the server rejects the credential.
// The pump stops retrying after sending it.
type AuthErrorMsg struct {
	Message string
}

// TasksChangedMsg is a tea.Msg sent when the task collection changed.
type TasksChangedMsg struct{}

// Channel is the push connection the pump drives.
type Channel interface {
	Connect(ctx context.Context, token, userID string) error
	Disconnect() error
	OnNotification(fn func(model.Notification))
	Done() <-chan struct{}
	Err() error
}

// Ingester receives pushed notifications.
type Ingester interface {
	IngestPush(n model.Notification) bool
}

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second

	// connectTimeout bounds a single connect attempt.
	connectTimeout = 15 * time.Second
)

// Pump owns the connect/reconnect loop for one session.
type Pump struct {
	ch    Channel
	store Ingester
	sess  *auth.Session
	log   *zap.SugaredLogger

	resultCh  chan tea.Msg
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	minBackoff time.Duration
	maxBackoff time.Duration

	mu      gosync.Mutex
	status  ChannelStatus
	running bool
	stopped bool
}

// New creates a Pump for one session.
func New(ch Channel, store Ingester, sess *auth.Session, log *zap.SugaredLogger) *Pump {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pump{
		ch:         ch,
		store:      store,
		sess:       sess,
		log:        log,
		resultCh:   make(chan tea.Msg, 64),
		triggerCh:  make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		status:     ChannelStatus{State: ChannelIdle, Since: time.Now()},
	}
}

// Start registers the push handler, starts the connection loop, and
// returns a tea.Cmd that waits for the first message.
func (p *Pump) Start() tea.Cmd {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	p.ch.OnNotification(p.handlePush)
	go p.run()

	return p.waitForResult()
}

// Stop ends the connection loop and disconnects. It blocks until the loop
// has exited. Safe to call more than once.
func (p *Pump) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	running := p.running
	close(p.stopCh)
	p.mu.Unlock()

	p.ch.OnNotification(nil)
	if err := p.ch.Disconnect(); err != nil {
		p.log.Warnw("disconnecting push channel", "error", err)
	}
	if running {
		<-p.doneCh
	}
}

// Reconnect skips the current backoff wait.
func (p *Pump) Reconnect() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the current connection status.
func (p *Pump) Status() ChannelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// TasksChanged queues a TasksChangedMsg. Wire it to the task collection's
// change hook.
func (p *Pump) TasksChanged() {
	p.sendResult(TasksChangedMsg{})
}

// WaitForNextResult returns a tea.Cmd that waits for the next message.
// Call it after handling any message produced by the pump.
func (p *Pump) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}

func (p *Pump) handlePush(n model.Notification) {
	p.mu.Lock()
	p.status.LastEvent = time.Now()
	p.mu.Unlock()

	if p.store.IngestPush(n) {
		p.sendResult(PushMsg{Notification: n})
	}
}

// run connects, waits for the connection to end, and reconnects with
// exponential backoff until stopped or the credential is rejected.
func (p *Pump) run() {
	defer close(p.doneCh)

	backoff := p.minBackoff
	for {
		if p.isStopped() {
			return
		}

		token, err := p.sess.Bearer()
		if err != nil {
			p.authFailed(err)
			return
		}

		p.setStatus(ChannelConnecting, nil)
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err = p.ch.Connect(ctx, token, p.sess.UserID())
		cancel()

		if err == nil {
			backoff = p.minBackoff
			p.setStatus(ChannelLive, nil)

			select {
			case <-p.stopCh:
				return
			case <-p.ch.Done():
				err = p.ch.Err()
				if p.isStopped() {
					return
				}
			}
		}

		if api.IsAuthError(err) {
			p.authFailed(err)
			return
		}
		if errors.Is(err, auth.ErrSessionEnded) || !p.sess.Active() {
			return
		}

		p.setStatus(ChannelDown, err)
		p.log.Warnw("push channel down; retrying", "error", err, "backoff", backoff)

		select {
		case <-p.stopCh:
			return
		case <-p.sess.Done():
			return
		case <-p.triggerCh:
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func (p *Pump) authFailed(err error) {
	p.setStatus(ChannelDown, err)
	p.log.Warnw("push channel rejected credential", "error", err)
	p.sendResult(AuthErrorMsg{Message: "login required: " + err.Error()})
}

func (p *Pump) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// setStatus updates the connection status and reports the change.
func (p *Pump) setStatus(state ChannelState, err error) {
	p.mu.Lock()
	p.status.State = state
	p.status.Error = err
	p.status.Since = time.Now()
	st := p.status
	p.mu.Unlock()

	p.sendResult(ChannelStatusMsg{Status: st})
}

// sendResult sends a message on the result channel without blocking.
func (p *Pump) sendResult(msg tea.Msg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if the UI is not keeping up; state lives in the stores.
		p.log.Debugw("dropping pump message", "type", msgType(msg))
	}
}

// waitForResult returns a tea.Cmd that waits for the next message from
// the result channel.
func (p *Pump) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-p.resultCh:
			return msg
		case <-p.stopCh:
			return nil
		}
	}
}

func msgType(msg tea.Msg) string {
	switch msg.(type) {
	case PushMsg:
		return "push"
	case ChannelStatusMsg:
		return "status"
	case AuthErrorMsg:
		return "auth"
	case TasksChangedMsg:
		return "tasks"
	default:
		return "unknown"
	}
}
