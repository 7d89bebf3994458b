package config

import (
	"sync"
)

type Mode string

const (
	OFF_MODE         Mode = "off"
	SOLID_MODE       Mode = "solid"
	PATTERN_MODE     Mode = "pattern"
	SCREENSAVER_MODE Mode = "screensaver"
)

// IsOutput reports modes driving a renderer. Off and unknown modes do not.
func (m Mode) IsOutput() bool {
	switch m {
	case SOLID_MODE, PATTERN_MODE, SCREENSAVER_MODE:
		return true
	}
	return false
}

// DesiredState is the requested output of the display.
type DesiredState struct {
	Output string  `json:"output"`
	Mode   Mode    `json:"mode"`
	Value  *string `json:"value"`
	Active bool    `json:"active"`
}

// StateUpdate lists the fields to change; nil fields are left untouched.
type StateUpdate struct {
	Output     *string
	Mode       *Mode
	Value      *string
	ClearValue bool
	Active     *bool
}

// DisplayState owns the desired state shared by the control surface and the
// pattern worker.
type DisplayState struct {
	lock  sync.RWMutex
	state DesiredState
}

func NewDisplayState() *DisplayState {
	return &DisplayState{
		state: DesiredState{Mode: OFF_MODE, Active: false},
	}
}

// Get returns a copy safe to keep.
func (ds *DisplayState) Get() DesiredState {
	ds.lock.RLock()
	defer ds.lock.RUnlock()

	return ds.state.clone()
}

// Update merges the given fields and reports whether anything changed.
func (ds *DisplayState) Update(update StateUpdate) bool {
	ds.lock.Lock()
	defer ds.lock.Unlock()

	changed := false
	if update.Output != nil && *update.Output != ds.state.Output {
		ds.state.Output = *update.Output
		changed = true
	}
	if update.Mode != nil && *update.Mode != ds.state.Mode {
		ds.state.Mode = *update.Mode
		changed = true
	}
	if update.ClearValue {
		if ds.state.Value != nil {
			ds.state.Value = nil
			changed = true
		}
	} else if update.Value != nil && (ds.state.Value == nil || *ds.state.Value != *update.Value) {
		value := *update.Value
		ds.state.Value = &value
		changed = true
	}
	if update.Active != nil && *update.Active != ds.state.Active {
		ds.state.Active = *update.Active
		changed = true
	}
	return changed
}

func (s DesiredState) clone() DesiredState {
	c := s
	if s.Value != nil {
		value := *s.Value
		c.Value = &value
	}
	return c
}

// ValueOrEmpty returns the value, "" when absent.
func (s DesiredState) ValueOrEmpty() string {
	if s.Value == nil {
		return ""
	}
	return *s.Value
}
