package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Session registry errors.
var (
	// ErrSessionNotFound indicates the receiver session ID is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition indicates an invalid session state transition.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionIDExhausted indicates no unused session ID could be allocated.
	ErrSessionIDExhausted = errors.New("could not allocate a unique session id")

	// ErrInvalidEndpoint indicates a connection attempt without a target.
	ErrInvalidEndpoint = errors.New("invalid sender endpoint")
)

// Pipeline errors.
var (
	// ErrDecodeFailed wraps a color or depth decoder failure for one frame.
	ErrDecodeFailed = errors.New("frame decode failed")

	// ErrNoDecoder indicates a pipeline built without a color or depth decoder.
	ErrNoDecoder = errors.New("decoder not configured")
)

// Handoff errors.
var (
	// ErrHandoffClosed indicates delivery after the handoff was closed.
	ErrHandoffClosed = errors.New("render handoff closed")
)
