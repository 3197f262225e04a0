// Package devserver is a self-contained task backend for local development
// and end-to-end tests. It speaks the same REST and push protocol as the
// production server and keeps its data in SQLite.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nhle/taskdesk/internal/model"
)

// DefaultSecret signs tokens when no secret is configured.
const DefaultSecret = "taskdesk-dev-secret"

const (
	ctxUserID   = "userID"
	joinTimeout = 5 * time.Second
	defaultPage = 10

	minPasswordLen = 6
)

var errInvalidToken = errors.New("invalid or expired token")

// Option configures a Server.
type Option func(*Server)

// WithSecret sets the HMAC key used to sign and verify tokens.
func WithSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithUploadDir sets where uploaded files are written.
func WithUploadDir(dir string) Option {
	return func(s *Server) {
		if dir != "" {
			s.uploadDir = dir
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Server serves the task REST API under /api and the push socket at
// /socket.
type Server struct {
	store     *Store
	secret    []byte
	uploadDir string
	log       *zap.SugaredLogger
	hub       *hub
	upgrader  websocket.Upgrader
	engine    *gin.Engine

	faultMu gosync.Mutex
	faults  map[string][]int
}

// New builds the router over store.
func New(store *Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		secret:    []byte(DefaultSecret),
		uploadDir: filepath.Join(os.TempDir(), "taskdesk-uploads"),
		log:       zap.NewNop().Sugar(),
		hub:       newHub(),
		faults:    make(map[string][]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), s.injectFaults())

	r.GET("/socket", s.handleSocket)
	r.Static("/uploads", s.uploadDir)

	apiGroup := r.Group("/api")
	apiGroup.POST("/auth/login", s.handleLogin)
	apiGroup.POST("/auth/register", s.handleRegister)

	authorized := apiGroup.Group("/")
	authorized.Use(s.requireAuth())
	{
		authorized.GET("/users", s.handleUsers)

		authorized.GET("/tasks", s.handleListTasks)
		authorized.POST("/tasks", s.handleCreateTask)
		authorized.PUT("/tasks/:id", s.handleUpdateTask)
		authorized.DELETE("/tasks/:id", s.handleDeleteTask)
		authorized.POST("/tasks/:id/share", s.handleShareTask)

		authorized.POST("/upload", s.handleUpload)

		authorized.GET("/notifications", s.handleListNotifications)
		authorized.POST("/notifications/read-all", s.handleMarkAllRead)
		authorized.POST("/notifications/:id/read", s.handleMarkRead)
		authorized.DELETE("/notifications/:id", s.handleDeleteNotification)

		authorized.GET("/analytics/overview", s.handleAnalyticsOverview)
		authorized.GET("/analytics/trends", s.handleAnalyticsTrends)
	}

	s.engine = r
	return s
}

// Handler exposes the router, for httptest or a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Infow("devserver listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	// Hijacked sockets are not closed by Shutdown.
	s.CloseSockets()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// IssueToken signs a token for userID that expires after ttl.
func (s *Server) IssueToken(userID string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"id":  userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Push stores a notification for userID and sends it to every socket the
// user has joined.
func (s *Server) Push(ctx context.Context, userID string, n model.Notification) (model.Notification, error) {
	stored, err := s.store.CreateNotification(ctx, userID, n)
	if err != nil {
		return model.Notification{}, err
	}
	sent := s.hub.broadcast(userID, envelope{Event: "notification", Data: stored})
	s.log.Debugw("notification pushed", "user", userID, "id", stored.ID, "sockets", sent)
	return stored, nil
}

// FailNext makes the next request matching method and path answer with
// status. Repeated calls queue further failures.
func (s *Server) FailNext(method, path string, status int) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	key := method + " " + path
	s.faults[key] = append(s.faults[key], status)
}

// Connections reports how many sockets are joined as userID.
func (s *Server) Connections(userID string) int {
	return s.hub.count(userID)
}

// CloseSockets closes every push socket.
func (s *Server) CloseSockets() {
	s.hub.closeAll()
}

// DropConnections abruptly closes every socket joined as userID.
func (s *Server) DropConnections(userID string) {
	s.hub.drop(userID)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func (s *Server) injectFaults() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Request.Method + " " + c.Request.URL.Path

		s.faultMu.Lock()
		var status int
		if queue := s.faults[key]; len(queue) > 0 {
			status = queue[0]
			s.faults[key] = queue[1:]
		}
		s.faultMu.Unlock()

		if status == 0 {
			c.Next()
			return
		}
		if status == http.StatusTooManyRequests {
			c.Header("Retry-After", "0")
		}
		c.AbortWithStatusJSON(status, gin.H{"message": "injected failure"})
	}
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := s.userFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func (s *Server) userFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("no token, authorization denied")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidToken
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return "", errInvalidToken
	}
	return id, nil
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}

	u, err := s.store.Authenticate(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid credentials"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	token, err := s.IssueToken(u.ID, 24*time.Hour)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	switch {
	case strings.TrimSpace(req.Name) == "":
		badRequest(c, "name", "name is required")
		return
	case !strings.Contains(req.Email, "@"):
		badRequest(c, "email", "a valid email is required")
		return
	case len(req.Password) < minPasswordLen:
		badRequest(c, "password", fmt.Sprintf("password must be at least %d characters", minPasswordLen))
		return
	}

	u, err := s.store.CreateUser(c.Request.Context(),
		model.User{Name: strings.TrimSpace(req.Name), Email: req.Email}, req.Password)
	if errors.Is(err, ErrEmailTaken) {
		badRequest(c, "email", "email already registered")
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	s.log.Infow("user registered", "user", u.ID)
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (s *Server) handleUsers(c *gin.Context) {
	users, err := s.store.Users(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	self := c.GetString(ctxUserID)
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if u.ID != self {
			out = append(out, u)
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (s *Server) handleListTasks(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !model.ValidStatus(status) {
		badRequest(c, "status", "invalid status value "+status)
		return
	}
	priority := c.Query("priority")
	if priority != "" && !model.ValidPriority(priority) {
		badRequest(c, "priority", "invalid priority value "+priority)
		return
	}
	page, ok := positiveInt(c, "page", 1)
	if !ok {
		return
	}
	limit, ok := positiveInt(c, "limit", defaultPage)
	if !ok {
		return
	}

	tasks, total, err := s.store.ListTasks(c.Request.Context(), c.GetString(ctxUserID), TaskFilter{
		Status:   status,
		Priority: priority,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":       tasks,
		"totalPages":  int(math.Ceil(float64(total) / float64(limit))),
		"currentPage": page,
		"total":       total,
	})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var d model.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	if err := d.Validate(); err != nil {
		validationFailed(c, err)
		return
	}

	t, err := s.store.CreateTask(c.Request.Context(), c.GetString(ctxUserID), d)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	var fields map[string]json.RawMessage
	var p model.Patch
	if err := json.Unmarshal(raw, &fields); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		badRequest(c, "", "invalid request body")
		return
	}
	if due, ok := fields["dueDate"]; ok && string(due) == "null" {
		p.ClearDue = true
	}
	if err := p.Validate(); err != nil {
		validationFailed(c, err)
		return
	}

	ctx := c.Request.Context()
	t, _, err := s.store.GetTask(ctx, c.GetString(ctxUserID), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "task not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	updated := p.Apply(t)
	if err := s.store.SaveTask(ctx, updated); err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	err := s.store.DeleteTask(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "task not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task removed"})
}

func (s *Server) handleShareTask(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"userIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		badRequest(c, "userIds", "select at least one user")
		return
	}

	ctx := c.Request.Context()
	self := c.GetString(ctxUserID)
	t, owner, err := s.store.GetTask(ctx, self, c.Param("id"))
	if errors.Is(err, ErrNotFound) || (err == nil && owner != self) {
		c.JSON(http.StatusNotFound, gin.H{"message": "task not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	sharer, err := s.store.User(ctx, self)
	if err != nil {
		s.internalError(c, err)
		return
	}
	for _, id := range req.UserIDs {
		if _, err := s.store.User(ctx, id); err != nil {
			badRequest(c, "userIds", "unknown user "+id)
			return
		}
	}

	if err := s.store.ShareTask(ctx, t.ID, req.UserIDs); err != nil {
		s.internalError(c, err)
		return
	}
	for _, id := range req.UserIDs {
		if id == self || t.IsSharedWith(id) {
			continue
		}
		msg := fmt.Sprintf("%s shared a task with you: %s", sharer.Name, t.Title)
		if _, err := s.Push(ctx, id, model.Notification{TaskID: t.ID, Message: msg}); err != nil {
			s.log.Warnw("share notification failed", "user", id, "error", err)
		}
	}

	shared, _, err := s.store.GetTask(ctx, self, t.ID)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, shared)
}

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file", "no file uploaded")
		return
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.internalError(c, err)
		return
	}

	name := uuid.New().String() + filepath.Ext(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(s.uploadDir, name)); err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Attachment{
		Filename:     name,
		OriginalName: file.Filename,
		Path:         "/uploads/" + name,
	})
}

func (s *Server) handleListNotifications(c *gin.Context) {
	limit, ok := positiveInt(c, "limit", 20)
	if !ok {
		return
	}
	unreadOnly := c.Query("unreadOnly") == "true"

	items, unread, err := s.store.ListNotifications(c.Request.Context(), c.GetString(ctxUserID), limit, unreadOnly)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "unreadCount": unread})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	err := s.store.MarkNotificationRead(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "notification not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification marked as read"})
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	if err := s.store.MarkAllNotificationsRead(c.Request.Context(), c.GetString(ctxUserID)); err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all notifications marked as read"})
}

func (s *Server) handleDeleteNotification(c *gin.Context) {
	err := s.store.DeleteNotification(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "notification not found"})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "notification removed"})
}

// handleSocket upgrades an authenticated request and requires a join frame
// naming the token's user before the socket receives pushes.
func (s *Server) handleSocket(c *gin.Context) {
	userID, err := s.userFromRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	var join struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}
	if err := conn.ReadJSON(&join); err != nil || join.Event != "join" || join.Data != userID {
		s.log.Warnw("socket closed before join", "user", userID, "error", err)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join required"),
			time.Now().Add(time.Second),
		)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	p := &peer{conn: conn}
	s.hub.add(userID, p)
	defer s.hub.remove(userID, p)
	s.log.Debugw("socket joined", "user", userID)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleAnalyticsOverview(c *gin.Context) {
	o, err := s.store.AnalyticsOverview(c.Request.Context(), c.GetString(ctxUserID), time.Now())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleAnalyticsTrends(c *gin.Context) {
	period := c.DefaultQuery("period", model.PeriodWeek)
	if _, ok := model.PeriodDays(period); !ok {
		badRequest(c, "period", "period must be week or month")
		return
	}
	tr, err := s.store.Trends(c.Request.Context(), c.GetString(ctxUserID), period, time.Now())
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.log.Errorw("request failed", "path", c.Request.URL.Path, "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "server error"})
}

func positiveInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		badRequest(c, key, key+" must be a positive integer")
		return 0, false
	}
	return n, true
}

func badRequest(c *gin.Context, field, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"errors": []gin.H{{"msg": msg, "param": field}},
	})
}

func validationFailed(c *gin.Context, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		badRequest(c, ve.Field, ve.Message)
		return
	}
	badRequest(c, "", err.Error())
}
