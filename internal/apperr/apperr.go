// Package apperr classifies every failure this service can produce into
// the taxonomy the HTTP and session layers respond to.
package apperr

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind names one of the taxonomy's classes, used to pick a session close
// reason when there is no HTTP status to send.
type Kind string

const (
	RoomNotFound       Kind = "roomNotFound"
	StateCorrupted     Kind = "stateCorrupted"
	InvalidRange       Kind = "invalidRange"
	LimitExceeded      Kind = "limitExceeded"
	CompactionRequired Kind = "compactionRequired"
	Transport          Kind = "transport"
	Internal           Kind = "internal"
)

// AppError carries an HTTP status (for the bootstrap REST surface), a
// taxonomy Kind (for session-close logging), a human message, and the
// wrapped cause.
type AppError struct {
	Code    int
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMessage returns a copy of e with a custom message.
func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{Code: e.Code, Kind: e.Kind, Message: msg, Err: e.Err}
}

// New builds an AppError directly.
func New(code int, kind Kind, message string, err error) *AppError {
	return &AppError{Code: code, Kind: kind, Message: message, Err: err}
}

// Constructors for each taxonomy entry from the error-handling design.

func NotFound(err error) *AppError {
	return New(http.StatusNotFound, RoomNotFound, "room not found", err)
}

func StateCorruptedErr(err error) *AppError {
	return New(http.StatusInternalServerError, StateCorrupted, "replica state corrupted", err)
}

func InvalidRangeErr(err error) *AppError {
	return New(http.StatusBadRequest, InvalidRange, "invalid edit range", err)
}

func LimitExceededErr(err error) *AppError {
	return New(http.StatusBadRequest, LimitExceeded, "document limit exceeded", err)
}

func TransportErr(err error) *AppError {
	return New(http.StatusBadGateway, Transport, "transport error", err)
}

func InternalErr(err error) *AppError {
	return New(http.StatusInternalServerError, Internal, "internal error", err)
}

// HandleError logs err and writes the appropriate JSON error response. Used
// by the bootstrap REST handlers; the session read/write pumps use Kind
// directly since there is no gin.Context on a WebSocket close path.
func HandleError(c *gin.Context, err error) {
	log.Printf("request error: %v", err)
	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
