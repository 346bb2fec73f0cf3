package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Engine errors
	ErrEngineUnavailable = errors.New("local engine unavailable")
	ErrNoValidModel      = errors.New("no valid model available for local inference")

	// Model errors
	ErrModelNotFound = errors.New("model not found")

	// Remote errors
	ErrAuth               = errors.New("remote authentication failed")
	ErrBadRequest         = errors.New("remote rejected the request")
	ErrRemoteUnconfigured = errors.New("remote inference is not configured — set an API key first")

	// Payload errors
	ErrParse = errors.New("malformed payload")

	// Chat errors
	ErrChatNotFound = errors.New("chat not found")
)

// ─── Remote failure classification ──────────────────────────────────────────

// ErrorKind distinguishes where a remote call failed, so the router can
// decide between surfacing the error and falling back to the local engine.
type ErrorKind int

const (
	KindHTTP    ErrorKind = iota // non-2xx status from the service
	KindNetwork                  // transport-level failure (dial, timeout, reset)
	KindParse                    // response body did not decode
)

// StatusError is the error type returned by the remote inference client.
// Status is the HTTP status code, or 0 for network/parse failures.
type StatusError struct {
	Status  int
	Kind    ErrorKind
	Message string
}

func (e *StatusError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: HTTP %d: %s", e.Status, e.Message)
	}
	return "remote: " + e.Message
}

// Is maps HTTP statuses onto the auth/bad-request sentinels so callers can
// use errors.Is without inspecting status codes themselves.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Status == 401 || e.Status == 403
	case ErrBadRequest:
		return e.Status == 400
	}
	return false
}
