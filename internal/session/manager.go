// Package session ties one login to the components that serve it and tears
// them down together on logout.
package session

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
	"github.com/nhle/taskdesk/internal/notify"
	"github.com/nhle/taskdesk/internal/realtime"
	"github.com/nhle/taskdesk/internal/share"
	tasksync "github.com/nhle/taskdesk/internal/sync"
	"github.com/nhle/taskdesk/internal/tasks"
	"github.com/nhle/taskdesk/internal/view"
)

// teardownTimeout bounds how long logout waits for the push reader to exit.
const teardownTimeout = 2 * time.Second

// overviewSample is how many tasks the dashboard summarizes.
const overviewSample = 5

// Scope bundles everything that belongs to one login.
type Scope struct {
	Session       *auth.Session
	Client        *api.Client
	Tasks         *tasks.Collection
	Notifications *notify.Store
	Channel       *realtime.Channel
	Pump          *tasksync.Pump
	Share         *share.Selection
	Directory     share.Directory

	log *zap.SugaredLogger
}

// Overview fetches, in parallel, the server's analytics totals and trends
// for period, a small task sample, and the unread counter. When the
// analytics calls fail for any reason other than the credential, the counts
// fall back to the sample and ServerTotals stays false. It does not touch
// the collection or the store.
func (s *Scope) Overview(ctx context.Context, period string) (view.Overview, error) {
	var (
		page      *api.TaskPage
		unread    *api.NotificationPage
		analytics *model.AnalyticsOverview
		trends    *model.Trends
		statsErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.Client.GetTasks(gctx, api.TaskQuery{Page: 1, Limit: overviewSample})
		return err
	})
	g.Go(func() error {
		var err error
		unread, err = s.Client.GetNotifications(gctx, 1, true)
		return err
	})
	g.Go(func() error {
		a, err := s.Client.AnalyticsOverview(gctx)
		if err != nil {
			statsErr = err
			return authOnly(err)
		}
		analytics = a
		return nil
	})
	g.Go(func() error {
		tr, err := s.Client.Trends(gctx, period)
		if err != nil {
			return authOnly(err)
		}
		trends = tr
		return nil
	})
	if err := g.Wait(); err != nil {
		return view.Overview{}, fmt.Errorf("loading overview: %w", err)
	}
	if err := s.Session.Guard(); err != nil {
		return view.Overview{}, err
	}

	o := view.Stats(page.Tasks, page.Total, time.Now())
	if analytics != nil {
		o = o.WithAnalytics(*analytics)
	} else {
		s.log.Warnw("analytics unavailable; showing sample counts", "error", statsErr)
	}
	o.Trends = trends
	o.Unread = unread.UnreadCount
	return o, nil
}

// authOnly passes credential failures through and swallows the rest.
func authOnly(err error) error {
	if api.IsAuthError(err) {
		return err
	}
	return nil
}

// close ends the session, stops the push loop, and waits for the reader.
func (s *Scope) close() {
	s.Session.End()
	s.Pump.Stop()
	s.Share.Close()

	select {
	case <-s.Channel.Done():
	case <-time.After(teardownTimeout):
		s.log.Warnw("push reader did not exit before timeout")
	}
}

// Manager owns the current Scope. At most one Scope, and so one push
// connection, is live at a time.
type Manager struct {
	cfg *model.AppConfig
	log *zap.SugaredLogger

	mu  gosync.Mutex
	cur *Scope
}

// NewManager creates a manager with no active session.
func NewManager(cfg *model.AppConfig, log *zap.SugaredLogger) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{cfg: cfg, log: log}
}

// Authenticate exchanges email and password for a bearer token.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (string, error) {
	c := api.NewClient(m.cfg.Server.BaseURL, nil, m.clientOptions()...)
	return c.Login(ctx, email, password)
}

// Register creates an account on the configured server.
func (m *Manager) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	c := api.NewClient(m.cfg.Server.BaseURL, nil, m.clientOptions()...)
	return c.Register(ctx, name, email, password)
}

// Login ends any current scope, waiting for its push connection to close,
// and then builds a new scope for token. The new scope's pump is not
// started; call Scope.Pump.Start when ready to receive pushes.
func (m *Manager) Login(token string) (*Scope, error) {
	sess, err := auth.NewSession(token)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		m.log.Infow("ending previous session", "user", m.cur.Session.UserID())
		m.cur.close()
		m.cur = nil
	}

	m.cur = m.newScope(sess)
	m.log.Infow("session started", "user", sess.UserID())
	return m.cur, nil
}

// Logout ends the current scope. Results of requests still in flight are
// discarded when they complete.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return
	}
	m.log.Infow("session ended", "user", m.cur.Session.UserID())
	m.cur.close()
	m.cur = nil
}

// Current returns the active scope, or nil.
func (m *Manager) Current() *Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *Manager) clientOptions() []api.Option {
	return []api.Option{
		api.WithTimeout(time.Duration(m.cfg.Server.TimeoutSec) * time.Second),
		api.WithRateLimit(m.cfg.Server.RatePerSec, m.cfg.Server.Burst),
		api.WithLogger(m.log.Named("api")),
	}
}

// directory prefers the configured share list and falls back to the
// server's user list.
func (m *Manager) directory(client *api.Client) share.Directory {
	if len(m.cfg.Share.Users) > 0 {
		return share.StaticDirectory(m.cfg.Share.Users)
	}
	return client
}

func (m *Manager) newScope(sess *auth.Session) *Scope {
	client := api.NewClient(m.cfg.Server.BaseURL, sess, m.clientOptions()...)
	coll := tasks.NewCollection(client, sess, m.cfg.Tasks.PageSize, m.log.Named("tasks"))
	store := notify.NewStore(client, sess, m.log.Named("notify"))
	ch := realtime.New(
		m.cfg.Server.SocketURL,
		time.Duration(m.cfg.Server.TimeoutSec)*time.Second,
		m.log.Named("realtime"),
	)
	pump := tasksync.New(ch, store, sess, m.log.Named("pump"))
	coll.SetOnChange(pump.TasksChanged)

	return &Scope{
		Session:       sess,
		Client:        client,
		Tasks:         coll,
		Notifications: store,
		Channel:       ch,
		Pump:          pump,
		Share:         share.NewSelection(client, sess, coll.Refresh, m.log.Named("share")),
		Directory:     m.directory(client),
		log:           m.log,
	}
}
