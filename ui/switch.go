package ui

import (
	"sync"
	"time"
)

// DebounceDelay is how long input must be stable before state change is accepted.
const DebounceDelay = 20 * time.Millisecond

// Switch is debounced push button that reads its raw state with given input function.
type Switch struct {
	read func() bool
	now  func() time.Time

	mu            sync.Mutex
	pressed       bool
	lastRaw       bool
	rawChanged    time.Time
	stateChanged  bool
	stateStart    time.Time
	lastStateTime time.Duration
}

// NewSwitch creates new switch. Read returns true when button is pressed.
func NewSwitch(read func() bool) *Switch {
	now := time.Now
	return &Switch{
		read:       read,
		now:        now,
		stateStart: now(),
		rawChanged: now(),
	}
}

// Run samples input and updates debounced state.
func (s *Switch) Run() {
	raw := s.read()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if raw != s.lastRaw {
		s.lastRaw = raw
		s.rawChanged = now
		return
	}
	if raw == s.pressed || now.Sub(s.rawChanged) < DebounceDelay {
		return
	}
	s.pressed = raw
	s.stateChanged = true
	s.lastStateTime = now.Sub(s.stateStart)
	s.stateStart = now
}

func (s *Switch) IsPressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed
}

// StateChanged returns true once after debounced state has changed.
func (s *Switch) StateChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.stateChanged
	s.stateChanged = false
	return changed
}

// CurrentStateDuration returns how long switch has been in current state.
func (s *Switch) CurrentStateDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.stateStart)
}

// LastStateDuration returns how long switch was in previous state.
func (s *Switch) LastStateDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStateTime
}
