package iot

import (
	"encoding/json"
	"fmt"
	"sync"
)

var _ Bridge = (*Registry)(nil)

// Registry holds the things exposed to the assistant, in registration order.
type Registry struct {
	mu     sync.RWMutex
	things []*Thing
	byName map[string]*Thing
}

// NewRegistry returns a registry exposing things.
func NewRegistry(things ...*Thing) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Thing)}
	for _, t := range things {
		if err := r.Add(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers t. Names must be unique.
func (r *Registry) Add(t *Thing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Name == "" {
		return fmt.Errorf("iot: add thing: empty name")
	}
	if _, dup := r.byName[t.Name]; dup {
		return fmt.Errorf("iot: add thing: duplicate name %q", t.Name)
	}
	r.things = append(r.things, t)
	r.byName[t.Name] = t
	return nil
}

// Names returns the registered thing names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.things))
	for i, t := range r.things {
		names[i] = t.Name
	}
	return names
}

type envelope struct {
	SessionID   string       `json:"session_id"`
	Type        string       `json:"type"`
	Update      bool         `json:"update"`
	Descriptors []descriptor `json:"descriptors,omitempty"`
	States      []thingState `json:"states,omitempty"`
}

// Register implements [Bridge].
func (r *Registry) Register(sessionID string) ([]byte, error) {
	r.mu.RLock()
	env := envelope{SessionID: sessionID, Type: "iot", Update: true, Descriptors: make([]descriptor, 0, len(r.things))}
	for _, t := range r.things {
		env.Descriptors = append(env.Descriptors, t.descriptor())
	}
	r.mu.RUnlock()

	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("iot: marshal descriptors: %w", err)
	}
	return b, nil
}

// Snapshot implements [Bridge].
func (r *Registry) Snapshot(sessionID string) ([]byte, error) {
	r.mu.RLock()
	env := envelope{SessionID: sessionID, Type: "iot", Update: true, States: make([]thingState, 0, len(r.things))}
	for _, t := range r.things {
		env.States = append(env.States, t.state())
	}
	r.mu.RUnlock()

	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("iot: marshal states: %w", err)
	}
	return b, nil
}

// Invoke implements [Bridge].
func (r *Registry) Invoke(raw json.RawMessage) (any, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, &CommandError{Err: fmt.Errorf("%w: %v", ErrBadCommand, err)}
	}
	if cmd.Name == "" || cmd.Method == "" {
		return nil, &CommandError{Thing: cmd.Name, Method: cmd.Method, Err: ErrBadCommand}
	}

	r.mu.RLock()
	t, ok := r.byName[cmd.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &CommandError{Thing: cmd.Name, Method: cmd.Method, Err: ErrUnknownThing}
	}

	for _, m := range t.Methods {
		if m.Name != cmd.Method {
			continue
		}
		args, err := m.bind(cmd.Parameters)
		if err != nil {
			return nil, &CommandError{Thing: cmd.Name, Method: cmd.Method, Err: err}
		}
		res, err := m.Call(args)
		if err != nil {
			return nil, &CommandError{Thing: cmd.Name, Method: cmd.Method, Err: err}
		}
		return res, nil
	}
	return nil, &CommandError{Thing: cmd.Name, Method: cmd.Method, Err: ErrUnknownMethod}
}
