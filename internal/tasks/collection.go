// Package tasks holds the canonical, server-reconciled list of tasks for the
// current page, and applies optimistic mutations on top of it.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/api"
	"github.com/nhle/taskdesk/internal/auth"
	"github.com/nhle/taskdesk/internal/model"
)

// TempPrefix marks ids assigned locally to unconfirmed creates.
const TempPrefix = "tmp-"

var (
	// ErrSuperseded is returned by a load whose result was discarded because
	// a newer load started after it.
	ErrSuperseded = errors.New("task load superseded")

	// ErrNotFound is returned when a mutation targets an id that is not in
	// the collection.
	ErrNotFound = errors.New("task not found")

	// ErrNoPendingDelete is returned by ConfirmDelete when no delete was
	// requested.
	ErrNoPendingDelete = errors.New("no delete awaiting confirmation")
)

// API is the subset of the REST client the collection needs.
type API interface {
	GetTasks(ctx context.Context, q api.TaskQuery) (*api.TaskPage, error)
	CreateTask(ctx context.Context, d model.Draft) (*model.Task, error)
	UpdateTask(ctx context.Context, id string, p model.Patch) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Filter narrows the task list. Empty fields match anything.
type Filter struct {
	Status   string
	Priority string
}

// Validate checks that non-empty fields hold known values.
func (f Filter) Validate() error {
	if f.Status != "" && !model.ValidStatus(f.Status) {
		return &model.ValidationError{Field: "status", Message: "invalid status filter " + f.Status}
	}
	if f.Priority != "" && !model.ValidPriority(f.Priority) {
		return &model.ValidationError{Field: "priority", Message: "invalid priority filter " + f.Priority}
	}
	return nil
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t model.Task) bool {
	return (f.Status == "" || t.Status == f.Status) &&
		(f.Priority == "" || t.Priority == f.Priority)
}

// Pagination describes the loaded page.
type Pagination struct {
	Page       int
	Limit      int
	TotalPages int
	Total      int
}

// Snapshot is a copy of the collection state.
type Snapshot struct {
	Tasks      []model.Task
	Filter     Filter
	Pagination Pagination
}

// Collection is the task list for one session. It is safe for concurrent
// use; the state lock is never held across a network call. Mutations on the
// same task id run one at a time.
type Collection struct {
	api   API
	sess  *auth.Session
	log   *zap.SugaredLogger
	now   func() time.Time
	newID func() string
	locks *keyedLock

	mu            gosync.Mutex
	tasks         []model.Task
	filter        Filter
	page          Pagination
	loadSeq       uint64
	generation    uint64
	aliases       map[string]string
	createdAt     map[string]time.Time
	pendingDelete string
	onChange      func()
}

// NewCollection creates an empty collection showing page 1 with the given
// page size.
func NewCollection(a API, sess *auth.Session, pageSize int, log *zap.SugaredLogger) *Collection {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Collection{
		api:       a,
		sess:      sess,
		log:       log,
		now:       time.Now,
		newID:     func() string { return TempPrefix + uuid.NewString() },
		locks:     newKeyedLock(),
		page:      Pagination{Page: 1, Limit: pageSize, TotalPages: 1},
		aliases:   make(map[string]string),
		createdAt: make(map[string]time.Time),
	}
}

// IsTemporaryID reports whether id was assigned locally.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// SetOnChange registers fn to be called after every state change. fn runs
// on the goroutine that made the change, outside the state lock.
func (c *Collection) SetOnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Collection) changed() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Load fetches the current filter and page.
func (c *Collection) Load(ctx context.Context) error {
	c.mu.Lock()
	f, p := c.filter, c.page
	c.mu.Unlock()
	return c.LoadPage(ctx, f, p.Page, p.Limit)
}

// Refresh reloads the current page. Used after changes made elsewhere,
// such as sharing.
func (c *Collection) Refresh(ctx context.Context) error {
	return c.Load(ctx)
}

// LoadPage fetches one page and, if no newer load has started meanwhile,
// replaces the list and pagination with the result.
func (c *Collection) LoadPage(ctx context.Context, f Filter, page, limit int) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}

	c.mu.Lock()
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	resp, err := c.api.GetTasks(ctx, api.TaskQuery{
		Status:   f.Status,
		Priority: f.Priority,
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}
	if err := c.sess.Guard(); err != nil {
		return err
	}

	c.mu.Lock()
	if latest := c.loadSeq; seq != latest {
		c.mu.Unlock()
		c.log.Debugw("discarding superseded task load", "seq", seq, "latest", latest)
		return ErrSuperseded
	}

	seen := make(map[string]struct{}, len(resp.Tasks))
	list := make([]model.Task, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		t.Pending = false
		list = append(list, c.pinCreatedAt(t))
	}

	totalPages := resp.TotalPages
	if totalPages < 1 {
		totalPages = 1
	}
	current := page
	if resp.CurrentPage > 0 {
		current = resp.CurrentPage
	}
	if current > totalPages {
		current = totalPages
	}

	c.tasks = list
	c.filter = f
	c.page = Pagination{Page: current, Limit: limit, TotalPages: totalPages, Total: resp.Total}
	c.generation++
	c.mu.Unlock()

	c.log.Debugw("tasks loaded", "count", len(list), "page", current, "total_pages", totalPages)
	c.changed()
	return nil
}

// CreateOptimistic validates d, shows a pending placeholder at the head of
// the list, and sends the create. On success the placeholder is replaced by
// the server's task; on failure it is removed. The placeholder's id doubles
// as the correlation id, so the reply is matched to its own placeholder.
func (c *Collection) CreateOptimistic(ctx context.Context, d model.Draft) (model.Task, error) {
	if err := d.Validate(); err != nil {
		return model.Task{}, err
	}
	d = d.Normalize()

	tmpID := c.newID()
	unlock, err := c.locks.Lock(ctx, tmpID)
	if err != nil {
		return model.Task{}, err
	}
	defer unlock()

	placeholder := d.Placeholder(tmpID, c.now())
	c.mu.Lock()
	c.tasks = append([]model.Task{placeholder}, c.tasks...)
	c.mu.Unlock()
	c.changed()

	created, err := c.api.CreateTask(ctx, d)
	if gErr := c.sess.Guard(); gErr != nil {
		return model.Task{}, gErr
	}
	if err != nil {
		c.mu.Lock()
		c.removeLocked(tmpID)
		c.mu.Unlock()
		c.changed()
		c.log.Warnw("create failed; placeholder removed", "tmp_id", tmpID, "error", err)
		return model.Task{}, fmt.Errorf("creating task: %w", err)
	}

	c.mu.Lock()
	confirmed := c.pinCreatedAt(*created)
	confirmed.Pending = false
	c.aliases[tmpID] = confirmed.ID

	if i := c.indexLocked(tmpID); i >= 0 {
		if c.indexLocked(confirmed.ID) >= 0 {
			// A newer load already brought the server copy in.
			c.removeLocked(tmpID)
		} else {
			c.tasks[i] = confirmed
			c.page.Total++
		}
	}
	c.mu.Unlock()
	c.changed()

	return confirmed.Clone(), nil
}

// UpdateOptimistic applies p locally, then sends it. On success the entry
// becomes the server's copy; on failure the previous entry is restored
// unless a load replaced the list in the meantime. An update addressed to a
// placeholder waits for its create and then targets the server id.
// AddAttachments are resolved against the entry while the id is held.
func (c *Collection) UpdateOptimistic(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	if err := p.Validate(); err != nil {
		return model.Task{}, err
	}

	id, unlock, err := c.lockResolved(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	defer unlock()

	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 {
		c.mu.Unlock()
		return model.Task{}, ErrNotFound
	}
	previous := c.tasks[i].Clone()
	gen := c.generation
	p = p.Resolve(previous)
	c.tasks[i] = p.Apply(previous)
	c.mu.Unlock()
	c.changed()

	updated, err := c.api.UpdateTask(ctx, id, p)
	if gErr := c.sess.Guard(); gErr != nil {
		return model.Task{}, gErr
	}
	if err != nil {
		c.mu.Lock()
		if c.generation == gen {
			if j := c.indexLocked(id); j >= 0 {
				c.tasks[j] = previous
			}
		}
		c.mu.Unlock()
		c.changed()
		c.log.Warnw("update failed; rolled back", "id", id, "error", err)
		return model.Task{}, fmt.Errorf("updating task: %w", err)
	}

	c.mu.Lock()
	confirmed := c.pinCreatedAt(*updated)
	confirmed.Pending = false
	if j := c.indexLocked(id); j >= 0 {
		c.tasks[j] = confirmed
	}
	c.mu.Unlock()
	c.changed()

	return confirmed.Clone(), nil
}

// RequestDelete marks id as awaiting confirmation. Nothing is sent yet.
func (c *Collection) RequestDelete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexLocked(c.resolveLocked(id)) < 0 {
		return ErrNotFound
	}
	c.pendingDelete = id
	return nil
}

// PendingDelete returns the id awaiting confirmation, if any.
func (c *Collection) PendingDelete() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingDelete, c.pendingDelete != ""
}

// CancelDelete drops the pending confirmation.
func (c *Collection) CancelDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingDelete = ""
}

// ConfirmDelete sends the pending delete. The entry is removed only once
// the server confirms; on failure it stays.
func (c *Collection) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	target := c.pendingDelete
	c.pendingDelete = ""
	c.mu.Unlock()
	if target == "" {
		return ErrNoPendingDelete
	}

	id, unlock, err := c.lockResolved(ctx, target)
	if err != nil {
		return err
	}
	defer unlock()

	if IsTemporaryID(id) {
		// The create failed while the delete was waiting.
		return ErrNotFound
	}

	if err := c.api.DeleteTask(ctx, id); err != nil {
		if gErr := c.sess.Guard(); gErr != nil {
			return gErr
		}
		c.log.Warnw("delete failed", "id", id, "error", err)
		return fmt.Errorf("deleting task: %w", err)
	}
	if err := c.sess.Guard(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.removeLocked(id) && c.page.Total > 0 {
		c.page.Total--
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// SetFilter changes the filter, returns to page 1, and reloads.
func (c *Collection) SetFilter(ctx context.Context, status, priority string) error {
	f := Filter{Status: status, Priority: priority}
	if err := f.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.filter = f
	c.page.Page = 1
	limit := c.page.Limit
	c.mu.Unlock()
	c.changed()

	return c.LoadPage(ctx, f, 1, limit)
}

// SetPage moves to page, clamped to [1, TotalPages], and reloads.
func (c *Collection) SetPage(ctx context.Context, page int) error {
	c.mu.Lock()
	if page > c.page.TotalPages {
		page = c.page.TotalPages
	}
	if page < 1 {
		page = 1
	}
	c.page.Page = page
	f, limit := c.filter, c.page.Limit
	c.mu.Unlock()

	return c.LoadPage(ctx, f, page, limit)
}

// Get returns the task with id, following a placeholder to its server id.
func (c *Collection) Get(id string) (model.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(c.resolveLocked(id)); i >= 0 {
		return c.tasks[i].Clone(), true
	}
	return model.Task{}, false
}

// Snapshot returns a copy of the current state.
func (c *Collection) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := make([]model.Task, len(c.tasks))
	for i, t := range c.tasks {
		list[i] = t.Clone()
	}
	return Snapshot{Tasks: list, Filter: c.filter, Pagination: c.page}
}

// lockResolved takes the per-id lock, following placeholder aliases that
// resolve while waiting. It returns the id the caller now holds.
func (c *Collection) lockResolved(ctx context.Context, id string) (string, func(), error) {
	for {
		unlock, err := c.locks.Lock(ctx, id)
		if err != nil {
			return "", nil, err
		}
		c.mu.Lock()
		resolved := c.resolveLocked(id)
		c.mu.Unlock()
		if resolved == id {
			return id, unlock, nil
		}
		unlock()
		id = resolved
	}
}

func (c *Collection) resolveLocked(id string) string {
	for {
		next, ok := c.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
}

// pinCreatedAt keeps the first non-zero creation time seen for an id.
func (c *Collection) pinCreatedAt(t model.Task) model.Task {
	if first, ok := c.createdAt[t.ID]; ok {
		t.CreatedAt = first
	} else if !t.CreatedAt.IsZero() {
		c.createdAt[t.ID] = t.CreatedAt
	}
	return t
}

func (c *Collection) indexLocked(id string) int {
	for i, t := range c.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection) removeLocked(id string) bool {
	i := c.indexLocked(id)
	if i < 0 {
		return false
	}
	c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
	return true
}
