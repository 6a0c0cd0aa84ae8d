package server

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNameTaken
	KindUnauthenticated
	KindPersistence
	KindNotFound
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNameTaken:
		return "name_taken"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPersistence:
		return "persistence_error"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Error is returned by every chat operation. Errors are scoped to the
// connection that issued the request and are never broadcast.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and message, ignoring the wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func validationError(status int, msg string) *Error {
	return &Error{Kind: KindValidation, Status: status, Message: msg}
}

var (
	ErrInvalidName     = validationError(http.StatusBadRequest, "username must be between 3 and 20 characters")
	ErrAlreadyLoggedIn = validationError(http.StatusBadRequest, "connection is already logged in")
	ErrEmptyContent    = validationError(http.StatusBadRequest, "message cannot be empty")
	ErrFileTooLarge    = validationError(http.StatusRequestEntityTooLarge, "file size too large")
	ErrInvalidFile     = validationError(http.StatusBadRequest, "file name and data cannot be empty")
	ErrInvalidRoom     = validationError(http.StatusBadRequest, "room cannot be empty")
	ErrInvalidReaction = validationError(http.StatusBadRequest, "reaction requires a message id and an emoji")
	ErrInvalidMessage  = validationError(http.StatusBadRequest, "invalid message format")
	ErrInvalidReceiver = validationError(http.StatusBadRequest, "receiver must be a valid username")

	ErrNameTaken       = &Error{Kind: KindNameTaken, Status: http.StatusConflict, Message: "username is already taken"}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Status: http.StatusUnauthorized, Message: "login required"}
	ErrNotFound        = &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "message not found"}
	ErrRateLimited     = &Error{Kind: KindRateLimited, Status: http.StatusTooManyRequests, Message: "too many requests"}
	ErrPersistence     = &Error{Kind: KindPersistence, Status: http.StatusInternalServerError}
)

func persistenceError(op string, err error) *Error {
	return &Error{
		Kind:    KindPersistence,
		Status:  http.StatusInternalServerError,
		Message: op,
		Err:     err,
	}
}

// fileTooLarge reports the configured limit alongside ErrFileTooLarge.
func fileTooLarge(limit int64) *Error {
	return &Error{
		Kind:    ErrFileTooLarge.Kind,
		Status:  ErrFileTooLarge.Status,
		Message: ErrFileTooLarge.Message,
		Err:     fmt.Errorf("limit is %d bytes", limit),
	}
}

// KindOf returns the kind of a chat error, or 0 for any other error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
