package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig marks configuration that cannot start a run.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMalformedMap marks a resolution map file that cannot be parsed.
	ErrMalformedMap = errors.New("malformed resolution map")
	// ErrMalformedEntities marks an entity list that cannot be parsed.
	ErrMalformedEntities = errors.New("malformed entity list")
)

// RemoteErrorKind classifies failures of the remote service.
type RemoteErrorKind string

const (
	RemoteThrottled RemoteErrorKind = "throttled"
	RemoteTransient RemoteErrorKind = "transient"
	RemoteNotFound  RemoteErrorKind = "not_found"
	RemoteForbidden RemoteErrorKind = "forbidden"
	RemoteInvalid   RemoteErrorKind = "invalid_response"
)

// RemoteError is returned by remote adapters for every non-success response.
type RemoteError struct {
	Kind       RemoteErrorKind
	StatusCode int
	// RetryAfter is the service-indicated wait, zero when absent.
	RetryAfter time.Duration
	Op         string
	Cause      error
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.Kind, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Kind)
}

func (e *RemoteError) Unwrap() error { return e.Cause }

// Permanent reports whether retrying cannot help.
func (e *RemoteError) Permanent() bool {
	switch e.Kind {
	case RemoteNotFound, RemoteForbidden:
		return true
	default:
		return false
	}
}

// AsRemote unwraps err into a *RemoteError when possible.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
