package iot

import (
	"fmt"
	"math"
)

// ValueType is the declared type of a property or parameter.
type ValueType string

const (
	TypeBoolean ValueType = "boolean"
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
)

// Property is a readable device attribute.
type Property struct {
	Name        string
	Description string
	Type        ValueType
	Get         func() any
}

// Parameter is a declared method argument.
type Parameter struct {
	Name        string
	Description string
	Type        ValueType
}

// Method is an action the assistant can invoke.
type Method struct {
	Name        string
	Description string
	Parameters  []Parameter
	Call        func(args Args) (any, error)
}

// Thing is a controllable device.
type Thing struct {
	Name        string
	Description string
	Properties  []Property
	Methods     []Method
}

// Args holds the validated parameters of a method call.
type Args map[string]any

// Number returns the numeric argument name.
func (a Args) Number(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

// Bool returns the boolean argument name.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// String returns the string argument name.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

func (m Method) bind(raw map[string]any) (Args, error) {
	args := make(Args, len(m.Parameters))
	for _, p := range m.Parameters {
		v, ok := raw[p.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrBadParameter, p.Name)
		}
		if !p.Type.accepts(v) {
			return nil, fmt.Errorf("%w: %q must be %s", ErrBadParameter, p.Name, p.Type)
		}
		args[p.Name] = v
	}
	return args, nil
}

func (t ValueType) accepts(v any) bool {
	switch t {
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		f, ok := v.(float64)
		return ok && !math.IsNaN(f)
	case TypeString:
		_, ok := v.(string)
		return ok
	}
	return false
}

// ── Descriptor wire shapes ───────────────────────────────────────────────────

type descriptor struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Properties  map[string]typedField `json:"properties"`
	Methods     map[string]methodDesc `json:"methods"`
}

type typedField struct {
	Description string    `json:"description"`
	Type        ValueType `json:"type"`
}

type methodDesc struct {
	Description string                `json:"description"`
	Parameters  map[string]typedField `json:"parameters"`
}

func (t *Thing) descriptor() descriptor {
	d := descriptor{
		Name:        t.Name,
		Description: t.Description,
		Properties:  make(map[string]typedField, len(t.Properties)),
		Methods:     make(map[string]methodDesc, len(t.Methods)),
	}
	for _, p := range t.Properties {
		d.Properties[p.Name] = typedField{Description: p.Description, Type: p.Type}
	}
	for _, m := range t.Methods {
		md := methodDesc{Description: m.Description, Parameters: make(map[string]typedField, len(m.Parameters))}
		for _, p := range m.Parameters {
			md.Parameters[p.Name] = typedField{Description: p.Description, Type: p.Type}
		}
		d.Methods[m.Name] = md
	}
	return d
}

type thingState struct {
	Name  string         `json:"name"`
	State map[string]any `json:"state"`
}

func (t *Thing) state() thingState {
	s := thingState{Name: t.Name, State: make(map[string]any, len(t.Properties))}
	for _, p := range t.Properties {
		s.State[p.Name] = p.Get()
	}
	return s
}
