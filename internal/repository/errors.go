package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pandeptwidyaop/n8n-monitor/internal/remote"
	"github.com/pandeptwidyaop/n8n-monitor/internal/store"
)

// Kind classifies a repository failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindConnectivity
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindServerError
	// KindStorage is a local store failure. It is never reported as
	// connectivity.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnectivity:
		return "connectivity"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServerError:
		return "server_error"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// ConfigProblem narrows a KindConfiguration failure.
type ConfigProblem int

const (
	ConfigOK ConfigProblem = iota
	ConfigMissingURL
	ConfigMissingKey
	ConfigMissingBoth
	ConfigInvalidURL
)

func (p ConfigProblem) String() string {
	switch p {
	case ConfigMissingURL:
		return "missing_url"
	case ConfigMissingKey:
		return "missing_api_key"
	case ConfigMissingBoth:
		return "missing_url_and_api_key"
	case ConfigInvalidURL:
		return "invalid_url"
	default:
		return ""
	}
}

// Error is the only error type returned by Repository operations.
type Error struct {
	Kind   Kind
	Config ConfigProblem
	// Status is the HTTP status code when the failure came from a response.
	Status int
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Config != ConfigOK {
		msg += " (" + e.Config.String() + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" [http %d]", e.Status)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a caller may retry the operation unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnectivity || e.Kind == KindServerError
}

// Guidance is a short user-facing hint for the failure.
func (e *Error) Guidance() string {
	switch e.Kind {
	case KindConfiguration:
		switch e.Config {
		case ConfigMissingURL:
			return "Set the n8n server URL in settings."
		case ConfigMissingKey:
			return "Set the n8n API key in settings."
		case ConfigMissingBoth:
			return "Set the n8n server URL and API key in settings."
		case ConfigInvalidURL:
			return "The server URL must be an absolute http:// or https:// URL. Fix it in settings."
		}
		return "Check your connection settings."
	case KindConnectivity:
		return "Could not reach the n8n server. Check the network and retry."
	case KindServerError:
		return "The n8n server reported an internal error. Retry later."
	case KindUnauthorized:
		return "The API key was rejected. Check your credential."
	case KindForbidden:
		return "The API key lacks permission for this action. Check your credential."
	case KindNotFound:
		return "The requested item no longer exists on the server."
	case KindConflict:
		return "The action is not possible in the item's current state."
	case KindStorage:
		return "The local store failed. Check the data directory and passphrase."
	default:
		return "An unexpected error occurred."
	}
}

// KindOf returns the classification of err, KindUnknown when err is not a
// repository error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func configError(op string, problem ConfigProblem, err error) *Error {
	return &Error{Kind: KindConfiguration, Config: problem, Op: op, Err: err}
}

func storageError(op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// classify maps a remote client failure onto the taxonomy. stop enables the
// extra classifications of the stop-execution call.
func classify(op string, err error, stop bool) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	// A cancelled call is never retried, so it must not read as connectivity.
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}

	var httpErr *remote.HTTPError
	if errors.As(err, &httpErr) {
		return &Error{Kind: statusKind(httpErr.StatusCode, stop), Status: httpErr.StatusCode, Op: op, Err: err}
	}

	var transportErr *remote.TransportError
	if errors.As(err, &transportErr) {
		return &Error{Kind: KindConnectivity, Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindConnectivity, Op: op, Err: err}
	}

	return &Error{Kind: KindUnknown, Op: op, Err: err}
}

func statusKind(status int, stop bool) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict && stop:
		return KindConflict
	case status >= 500 && status <= 599:
		return KindServerError
	default:
		return KindUnknown
	}
}
