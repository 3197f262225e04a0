package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

// fakeChannel scripts Connect results and lets tests drop the connection.
type fakeChannel struct {
	mu          gosync.Mutex
	connectErrs []error
	connects    int
	handler     func(model.Notification)
	done        chan struct{}
	err         error
	joinedAs    string
}

func newFakeChannel(errs ...error) *fakeChannel {
	done := make(chan struct{})
	close(done)
	return &fakeChannel{connectErrs: errs, done: done}
}

func (f *fakeChannel) Connect(_ context.Context, token, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.joinedAs = userID
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.done = make(chan struct{})
	f.err = nil
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	return nil
}

func (f *fakeChannel) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	close(f.done)
}

func (f *fakeChannel) OnNotification(fn func(model.Notification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeChannel) push(n model.Notification) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(n)
	}
}

func (f *fakeChannel) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeChannel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type fakeStore struct {
	mu   gosync.Mutex
	seen map[string]bool
}

func (s *fakeStore) IngestPush(n model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[n.ID] {
		return false
	}
	s.seen[n.ID] = true
	return true
}

func newPump(ch *fakeChannel) (*Pump, *auth.Session) {
	sess := auth.NewStaticSession("tok", "u1", time.Time{})
	p := New(ch, &fakeStore{}, sess, nil)
	p.minBackoff = 5 * time.Millisecond
	p.maxBackoff = 20 * time.Millisecond
	return p, sess
}

// next runs cmd until it yields a message accepted by match.
func next[T tea.Msg](t *testing.T, p *Pump, cmd tea.Cmd) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		msgc := make(chan tea.Msg, 1)
		go func() { msgc <- cmd() }()
		select {
		case msg := <-msgc:
			if m, ok := msg.(T); ok {
				return m
			}
			cmd = p.WaitForNextResult()
		case <-deadline:
			t.Fatal("timed out waiting for message")
			var zero T
			return zero
		}
	}
}

func waitState(t *testing.T, p *Pump, cmd tea.Cmd, want ChannelState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		msgc := make(chan tea.Msg, 1)
		go func() { msgc <- cmd() }()
		select {
		case msg := <-msgc:
			if st, ok := msg.(ChannelStatusMsg); ok && st.Status.State == want {
				return
			}
			cmd = p.WaitForNextResult()
		case <-deadline:
			t.Fatalf("never reached state %s", want)
		}
	}
}

func TestPumpDeliversPushes(t *testing.T) {
	ch := newFakeChannel()
	p, _ := newPump(ch)
	defer p.Stop()

	cmd := p.Start()
	require.NotNil(t, cmd)
	waitState(t, p, cmd, ChannelLive)
	assert.Equal(t, "u1", ch.joinedAs)

	ch.push(model.Notification{ID: "n1"})
	ch.push(model.Notification{ID: "n1"})
	ch.push(model.Notification{ID: "n2"})

	first := next[PushMsg](t, p, p.WaitForNextResult())
	second := next[PushMsg](t, p, p.WaitForNextResult())
	assert.Equal(t, "n1", first.Notification.ID)
	assert.Equal(t, "n2", second.Notification.ID, "duplicate push produces no message")
}

func TestPumpReconnectsAfterDrop(t *testing.T) {
	ch := newFakeChannel(&api.TransientError{Message: "refused"})
	p, _ := newPump(ch)
	defer p.Stop()

	cmd := p.Start()
	waitState(t, p, cmd, ChannelLive)
	assert.Equal(t, 2, ch.connectCount())

	ch.drop(&api.TransientError{Message: "lost"})
	waitState(t, p, p.WaitForNextResult(), ChannelDown)
	waitState(t, p, p.WaitForNextResult(), ChannelLive)
	assert.Equal(t, 3, ch.connectCount())
}

func TestPumpStopsOnAuthError(t *testing.T) {
	ch := newFakeChannel(&api.AuthError{StatusCode: 401, Message: "expired"})
	p, _ := newPump(ch)

	msg := next[AuthErrorMsg](t, p, p.Start())
	assert.Contains(t, msg.Message, "login required")

	p.Stop()
	assert.Equal(t, 1, ch.connectCount())
	assert.Equal(t, ChannelDown, p.Status().State)
}

func TestPumpStopIsIdempotent(t *testing.T) {
	ch := newFakeChannel()
	p, _ := newPump(ch)
	waitState(t, p, p.Start(), ChannelLive)

	p.Stop()
	p.Stop()
	assert.Nil(t, p.Start(), "a stopped pump does not restart")
}

func TestPumpEndsWithSession(t *testing.T) {
	ch := newFakeChannel()
	p, sess := newPump(ch)
	defer p.Stop()
	waitState(t, p, p.Start(), ChannelLive)

	sess.End()
	ch.drop(nil)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, ch.connectCount(), "no reconnect after logout")
}

func TestTasksChangedMessage(t *testing.T) {
	ch := newFakeChannel()
	p, _ := newPump(ch)
	defer p.Stop()
	cmd := p.Start()

	p.TasksChanged()
	next[TasksChangedMsg](t, p, cmd)
}
