package iot

import (
	"fmt"
	"sync"
)

// Lamp is a switchable light.
type Lamp struct {
	mu sync.Mutex
	on bool
}

// Thing returns the lamp's assistant-facing definition.
func (l *Lamp) Thing() *Thing {
	return &Thing{
		Name:        "Lamp",
		Description: "A test lamp",
		Properties: []Property{
			{Name: "power", Description: "Whether the lamp is on", Type: TypeBoolean, Get: func() any { return l.On() }},
		},
		Methods: []Method{
			{Name: "TurnOn", Description: "Turn the lamp on", Call: func(Args) (any, error) { l.set(true); return nil, nil }},
			{Name: "TurnOff", Description: "Turn the lamp off", Call: func(Args) (any, error) { l.set(false); return nil, nil }},
		},
	}
}

// On reports whether the lamp is lit.
func (l *Lamp) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *Lamp) set(on bool) {
	l.mu.Lock()
	l.on = on
	l.mu.Unlock()
}

// Speaker exposes the playback volume. The playback loop reads Volume for
// every frame it writes.
type Speaker struct {
	mu     sync.Mutex
	volume int
}

// NewSpeaker returns a speaker at volume percent.
func NewSpeaker(volume int) *Speaker {
	return &Speaker{volume: clampVolume(volume)}
}

// Thing returns the speaker's assistant-facing definition.
func (s *Speaker) Thing() *Thing {
	return &Thing{
		Name:        "Speaker",
		Description: "The device speaker",
		Properties: []Property{
			{Name: "volume", Description: "Current volume 0-100", Type: TypeNumber, Get: func() any { return s.Volume() }},
		},
		Methods: []Method{
			{
				Name:        "SetVolume",
				Description: "Set the volume",
				Parameters:  []Parameter{{Name: "volume", Description: "Integer 0-100", Type: TypeNumber}},
				Call: func(a Args) (any, error) {
					v := a.Number("volume")
					if v < 0 || v > 100 {
						return nil, fmt.Errorf("%w: volume %v out of range", ErrBadParameter, v)
					}
					s.SetVolume(int(v))
					return nil, nil
				},
			},
		},
	}
}

// Volume returns the volume in percent.
func (s *Speaker) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume sets the volume, clamped to 0-100.
func (s *Speaker) SetVolume(v int) {
	s.mu.Lock()
	s.volume = clampVolume(v)
	s.mu.Unlock()
}

func clampVolume(v int) int { return min(max(v, 0), 100) }
