// Package mock provides a recording [iot.Bridge] for unit tests.
package mock

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/internal/iot"
)

var _ iot.Bridge = (*Bridge)(nil)

// Bridge records every call. Invoke fails for commands whose raw JSON is
// listed in FailCommands.
type Bridge struct {
	mu sync.Mutex

	// FailCommands maps raw command JSON to the error Invoke returns for it.
	FailCommands map[string]error

	// RegisterError is returned by Register when non-nil.
	RegisterError error

	registered []string
	invoked    []string
	snapshots  []string
}

// Register implements [iot.Bridge].
func (b *Bridge) Register(sessionID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered = append(b.registered, sessionID)
	if b.RegisterError != nil {
		return nil, b.RegisterError
	}
	return fmt.Appendf(nil, `{"session_id":%q,"type":"iot","update":true,"descriptors":[]}`, sessionID), nil
}

// Invoke implements [iot.Bridge].
func (b *Bridge) Invoke(cmd json.RawMessage) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoked = append(b.invoked, string(cmd))
	if err, ok := b.FailCommands[string(cmd)]; ok {
		return nil, &iot.CommandError{Err: err}
	}
	return nil, nil
}

// Snapshot implements [iot.Bridge].
func (b *Bridge) Snapshot(sessionID string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, sessionID)
	return fmt.Appendf(nil, `{"session_id":%q,"type":"iot","update":true,"states":[]}`, sessionID), nil
}

// Registered returns the session ids passed to Register.
func (b *Bridge) Registered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.registered...)
}

// Invoked returns the raw commands passed to Invoke.
func (b *Bridge) Invoked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.invoked...)
}

// Snapshots returns the session ids passed to Snapshot.
func (b *Bridge) Snapshots() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.snapshots...)
}
