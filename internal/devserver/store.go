package devserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/taskdesk/internal/model"
)

// ErrNotFound is returned when a row does not exist or is not visible to
// the requesting user.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned when registering an email twice.
var ErrEmailTaken = errors.New("email already registered")

// Store persists the development backend's users, tasks, and notifications
// in SQLite.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens (or creates) a SQLite database at dbPath and runs any
// pending schema migrations. ":memory:" gives a private in-memory database.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across queries
	// and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// userRow mirrors the users table.
type userRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	Password  string `db:"password"`
	CreatedAt string `db:"created_at"`
}

// taskRow mirrors the tasks table.
type taskRow struct {
	ID          string         `db:"id"`
	OwnerID     string         `db:"owner_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	Status      string         `db:"status"`
	Priority    string         `db:"priority"`
	DueDate     sql.NullString `db:"due_date"`
	Attachments string         `db:"attachments"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

// notificationRow mirrors the notifications table.
type notificationRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	TaskID    string `db:"task_id"`
	Message   string `db:"message"`
	Read      bool   `db:"read"`
	CreatedAt string `db:"created_at"`
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateUser registers a user. An empty ID gets a generated one.
func (s *Store) CreateUser(ctx context.Context, u model.User, password string) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, password, formatTime(time.Now()),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}

// Authenticate returns the user with matching credentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM users WHERE email = ?", strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && row.Password != password) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("looking up user: %w", err)
	}
	return model.User{ID: row.ID, Name: row.Name, Email: row.Email}, nil
}

// Users lists every registered user.
func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM users ORDER BY name"); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	out := make([]model.User, len(rows))
	for i, r := range rows {
		out[i] = model.User{ID: r.ID, Name: r.Name, Email: r.Email}
	}
	return out, nil
}

// TaskFilter selects tasks visible to a user.
type TaskFilter struct {
	Status   string
	Priority string
	Limit    int
	Offset   int
}

const visibleTo = `(t.owner_id = ? OR EXISTS (
	SELECT 1 FROM task_shares s WHERE s.task_id = t.id AND s.user_id = ?))`

// ListTasks returns one page of tasks owned by or shared with userID,
// newest first, and the total number of matches.
func (s *Store) ListTasks(ctx context.Context, userID string, f TaskFilter) ([]model.Task, int, error) {
	conditions := []string{visibleTo}
	args := []interface{}{userID, userID}

	if f.Status != "" {
		conditions = append(conditions, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		conditions = append(conditions, "t.priority = ?")
		args = append(args, f.Priority)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM tasks t"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("counting tasks: %w", err)
	}

	query := "SELECT t.* FROM tasks t" + where + " ORDER BY t.created_at DESC, t.id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("querying tasks: %w", err)
	}

	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		t, err := s.hydrate(ctx, r)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, nil
}

// GetTask returns a task visible to userID along with its owner.
func (s *Store) GetTask(ctx context.Context, userID, id string) (model.Task, string, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		"SELECT t.* FROM tasks t WHERE t.id = ? AND "+visibleTo, id, userID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, "", ErrNotFound
	}
	if err != nil {
		return model.Task{}, "", fmt.Errorf("getting task %s: %w", id, err)
	}
	t, err := s.hydrate(ctx, row)
	return t, row.OwnerID, err
}

// CreateTask inserts a task owned by ownerID.
func (s *Store) CreateTask(ctx context.Context, ownerID string, d model.Draft) (model.Task, error) {
	d = d.Normalize()
	now := time.Now()
	t := model.Task{
		ID:          uuid.New().String(),
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		Priority:    d.Priority,
		DueDate:     d.DueDate,
		CreatedAt:   now.UTC(),
		Attachments: d.Attachments,
	}

	attachments, err := json.Marshal(nonNil(t.Attachments))
	if err != nil {
		return model.Task{}, fmt.Errorf("marshaling attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, owner_id, title, description, status, priority,
			due_date, attachments, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, ownerID, t.Title, t.Description, t.Status, t.Priority,
		nullTime(t.DueDate), string(attachments), formatTime(now), formatTime(now),
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("creating task: %w", err)
	}
	return t, nil
}

// SaveTask writes the mutable fields of t.
func (s *Store) SaveTask(ctx context.Context, t model.Task) error {
	attachments, err := json.Marshal(nonNil(t.Attachments))
	if err != nil {
		return fmt.Errorf("marshaling attachments: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?, priority = ?,
			due_date = ?, attachments = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.Status, t.Priority,
		nullTime(t.DueDate), string(attachments), formatTime(time.Now()),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task owned by ownerID.
func (s *Store) DeleteTask(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM tasks WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ShareTask adds userIDs to the task's share set.
func (s *Store) ShareTask(ctx context.Context, id string, userIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO task_shares (task_id, user_id) VALUES (?, ?)", id, uid); err != nil {
			return fmt.Errorf("sharing task %s with %s: %w", id, uid, err)
		}
	}
	return tx.Commit()
}

func (s *Store) hydrate(ctx context.Context, r taskRow) (model.Task, error) {
	t := model.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Status:      r.Status,
		Priority:    r.Priority,
		CreatedAt:   parseTime(r.CreatedAt),
	}
	if r.DueDate.Valid {
		d := parseTime(r.DueDate.String)
		t.DueDate = &d
	}
	if r.Attachments != "" && r.Attachments != "[]" {
		if err := json.Unmarshal([]byte(r.Attachments), &t.Attachments); err != nil {
			return model.Task{}, fmt.Errorf("unmarshaling attachments: %w", err)
		}
	}
	if err := s.db.SelectContext(ctx, &t.SharedWith,
		"SELECT user_id FROM task_shares WHERE task_id = ? ORDER BY user_id", r.ID); err != nil {
		return model.Task{}, fmt.Errorf("loading shares for %s: %w", r.ID, err)
	}
	if len(t.SharedWith) == 0 {
		t.SharedWith = nil
	}
	return t, nil
}

// CreateNotification stores a notification for userID.
func (s *Store) CreateNotification(ctx context.Context, userID string, n model.Notification) (model.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, task_id, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, userID, n.TaskID, n.Message, n.Read, formatTime(n.CreatedAt),
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("creating notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns up to limit notifications for userID, newest
// first, plus the user's total unread count.
func (s *Store) ListNotifications(ctx context.Context, userID string, limit int, unreadOnly bool) ([]model.Notification, int, error) {
	query := "SELECT * FROM notifications WHERE user_id = ?"
	if unreadOnly {
		query += " AND read = 0"
	}
	query += " ORDER BY created_at DESC, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, 0, fmt.Errorf("querying notifications: %w", err)
	}

	var unread int
	if err := s.db.GetContext(ctx, &unread,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0", userID); err != nil {
		return nil, 0, fmt.Errorf("counting unread notifications: %w", err)
	}

	out := make([]model.Notification, len(rows))
	for i, r := range rows {
		out[i] = model.Notification{
			ID:        r.ID,
			TaskID:    r.TaskID,
			Message:   r.Message,
			Read:      r.Read,
			CreatedAt: parseTime(r.CreatedAt),
		}
	}
	return out, unread, nil
}

// MarkNotificationRead marks one of userID's notifications read.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("marking notification %s read: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every notification of userID read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("marking notifications read: %w", err)
	}
	return nil
}

// DeleteNotification removes one of userID's notifications.
func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nonNil(a []model.Attachment) []model.Attachment {
	if a == nil {
		return []model.Attachment{}
	}
	return a
}

// User returns one user by id.
func (s *Store) User(ctx context.Context, id string) (model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM users WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("getting user %s: %w", id, err)
	}
	return model.User{ID: row.ID, Name: row.Name, Email: row.Email}, nil
}
