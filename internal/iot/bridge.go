// Package iot exposes device controls to the voice assistant.
//
// The session layer talks only to the [Bridge] interface: it registers the
// device descriptors once per session, forwards each command the assistant
// issues, and reports a state snapshot after a command batch. [Registry] is
// the in-process implementation; it is constructed explicitly and handed to
// whoever needs it.
package iot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Bridge is the boundary between the session engine and device controls.
//
// Implementations must be safe for concurrent use.
type Bridge interface {
	// Register returns the descriptor message announcing every device and
	// its capabilities for sessionID.
	Register(sessionID string) ([]byte, error)

	// Invoke executes one raw command. Unknown devices or methods and bad
	// parameters yield a *CommandError.
	Invoke(cmd json.RawMessage) (any, error)

	// Snapshot returns the state message for sessionID.
	Snapshot(sessionID string) ([]byte, error)
}

// Command is one device command issued by the assistant.
type Command struct {
	Name       string         `json:"name"`
	Method     string         `json:"method"`
	Parameters map[string]any `json:"parameters"`
}

// Command errors.
var (
	ErrUnknownThing  = errors.New("iot: unknown thing")
	ErrUnknownMethod = errors.New("iot: unknown method")
	ErrBadParameter  = errors.New("iot: bad parameter")
	ErrBadCommand    = errors.New("iot: malformed command")
)

// CommandError describes a command that could not be executed.
type CommandError struct {
	Thing  string
	Method string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Thing == "" {
		return fmt.Sprintf("iot: command: %v", e.Err)
	}
	return fmt.Sprintf("iot: command %s.%s: %v", e.Thing, e.Method, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
