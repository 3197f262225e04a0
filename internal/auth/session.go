// Package auth holds the per-login session context: the bearer credential,
// the identity it belongs to, and whether the session is still live.
package auth

import (
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when no bearer credential is available.
	ErrNoToken = errors.New("no bearer token")

	// ErrTokenExpired is returned when the credential's exp claim has passed.
	ErrTokenExpired = errors.New("bearer token expired")

	// ErrSessionEnded marks a result that completed after its session was
	// ended. Such results are discarded rather than applied.
	ErrSessionEnded = errors.New("session ended")
)

// Session is the explicit replacement for ambient login state. One Session
// exists per login and is passed into every component that talks to the
// server.
type Session struct {
	token     string
	userID    string
	expiresAt time.Time
	now       func() time.Time

	mu    gosync.Mutex
	ended bool
	done  chan struct{}
}

// NewSession builds a session from a bearer token. The token's claims are
// read without signature verification; the server remains the authority.
// The user id is taken from the "id", "userId" or "sub" claim.
func NewSession(token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parsing token claims: %w", err)
	}

	userID := claimString(claims, "id", "userId", "sub")
	if userID == "" {
		return nil, fmt.Errorf("token carries no user id claim")
	}

	s := &Session{
		token:  token,
		userID: userID,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.expiresAt = exp.Time
	}
	return s, nil
}

// NewStaticSession builds a session without decoding the token. Used when
// the caller already knows the identity.
func NewStaticSession(token, userID string, expiresAt time.Time) *Session {
	return &Session{
		token:     token,
		userID:    userID,
		expiresAt: expiresAt,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k]; ok {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case float64:
				return fmt.Sprintf("%.0f", val)
			}
		}
	}
	return ""
}

// UserID returns the identity the session belongs to.
func (s *Session) UserID() string { return s.userID }

// Token returns the raw credential, regardless of liveness.
func (s *Session) Token() string { return s.token }

// ExpiresAt returns the token expiry, or the zero time if it has none.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

// Expired reports whether the token's expiry has passed.
func (s *Session) Expired() bool {
	return !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt)
}

// Active reports whether completions for this session may still be applied.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// End marks the session as finished. Safe to call more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.done)
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Bearer returns the credential for an outgoing request, or an error if it
// is missing, expired, or the session has ended.
func (s *Session) Bearer() (string, error) {
	if s == nil || s.token == "" {
		return "", ErrNoToken
	}
	if !s.Active() {
		return "", ErrSessionEnded
	}
	if s.Expired() {
		return "", ErrTokenExpired
	}
	return s.token, nil
}

// Guard returns ErrSessionEnded when the session is no longer active. Call it
// before applying a completion.
func (s *Session) Guard() error {
	if !s.Active() {
		return ErrSessionEnded
	}
	return nil
}
