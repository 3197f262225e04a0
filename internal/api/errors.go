package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nhle/taskdesk/internal/model"
)

// AuthError indicates a missing, expired, or rejected credential. It is
// never retried.
type AuthError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("auth error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("auth error: %s", e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers failures that may succeed if tried again later:
// timeouts, connection failures, 5xx responses, exhausted rate-limit retries.
type TransientError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transient error: %s", e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConflictError reports that the target of a mutation is missing or was
// changed underneath the client (404, 409, 412).
type ConflictError struct {
	StatusCode int
	Message    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%d): %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// IsConflict reports whether err (or any error in its chain) is a
// ConflictError.
func IsConflict(err error) bool {
	var cErr *ConflictError
	return errors.As(err, &cErr)
}

// Retryable reports whether a user-initiated retry could succeed.
func Retryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// errorResponse covers the two error shapes the server produces:
// {"errors":[{"msg":"...","param":"..."}]} and {"message":"..."}.
type errorResponse struct {
	Errors []struct {
		Msg   string `json:"msg"`
		Param string `json:"param"`
		Path  string `json:"path"`
	} `json:"errors"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// classify maps a non-2xx response to the client error taxonomy.
func classify(method, path string, status int, body []byte) error {
	msg, field := serverMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	where := method + " " + path

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &model.ValidationError{Field: field, Message: msg}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{StatusCode: status, Message: fmt.Sprintf("%s on %s", msg, where)}
	case status == http.StatusNotFound || status == http.StatusConflict ||
		status == http.StatusPreconditionFailed:
		return &ConflictError{StatusCode: status, Message: fmt.Sprintf("%s on %s", msg, where)}
	case status >= 500 || status == http.StatusTooManyRequests:
		return &TransientError{StatusCode: status, Message: fmt.Sprintf("%s on %s", msg, where)}
	default:
		return fmt.Errorf("unexpected status %d on %s: %s", status, where, msg)
	}
}

func serverMessage(body []byte) (msg, field string) {
	var er errorResponse
	if json.Unmarshal(body, &er) != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > 200 {
			text = text[:200]
		}
		return text, ""
	}
	if len(er.Errors) > 0 {
		field = er.Errors[0].Param
		if field == "" {
			field = er.Errors[0].Path
		}
		return er.Errors[0].Msg, field
	}
	if er.Message != "" {
		return er.Message, ""
	}
	return er.Error, ""
}
