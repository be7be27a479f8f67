package session

import (
	"errors"

	"github.com/sjawhar/pollcast/internal/schema"
)

var (
	// ErrNotFound is returned by Join when no active session has the code.
	ErrNotFound = schema.ErrNotFound
	// ErrValidation marks malformed input rejected before any backend call.
	ErrValidation = errors.New("invalid input")
	// ErrBackend wraps failed reads and writes against the backend.
	ErrBackend = errors.New("backend error")
	// ErrNoActiveSession is returned when an operation needs a joined or
	// created session.
	ErrNoActiveSession = errors.New("no active session")
	ErrNotHost         = errors.New("only the host can do this")
	ErrAlreadyJoined   = errors.New("already in a session")
	ErrSessionEnded    = errors.New("session has ended")
)
