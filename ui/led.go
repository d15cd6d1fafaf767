// Package ui contains non-blocking LED and push button implementations for mlcb.Node indicators and mode gestures.
package ui

import (
	"sync"
	"time"
)

const (
	// BlinkInterval is how long LED stays on or off when blinking (1Hz).
	BlinkInterval = 500 * time.Millisecond
	// PulseLength is how long LED stays on after Pulse.
	PulseLength = 20 * time.Millisecond
)

// LED is indicator that writes its state with given output function. Blinking and pulses are timed by Run calls.
type LED struct {
	write func(on bool)
	now   func() time.Time

	mu         sync.Mutex
	state      bool
	blink      bool
	lastToggle time.Time
	pulse      bool
	pulseStart time.Time
}

// NewLED creates new LED. Write is called with LED state on every Run.
func NewLED(write func(on bool)) *LED {
	return &LED{
		write: write,
		now:   time.Now,
	}
}

// State returns true when LED is lit.
func (l *LED) State() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsBlinking returns true when LED is blinking.
func (l *LED) IsBlinking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blink
}

func (l *LED) On() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = true
	l.blink = false
}

func (l *LED) Off() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = false
	l.blink = false
}

func (l *LED) Blink() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.blink {
		return
	}
	l.blink = true
	l.lastToggle = l.now()
}

// Pulse lights LED for PulseLength. LED is turned off after pulse regardless of state before pulse.
func (l *LED) Pulse() {
	l.mu.Lock()
	l.pulse = true
	l.state = true
	l.pulseStart = l.now()
	l.mu.Unlock()
	l.Run()
}

// Run updates blinking and pulse state and writes LED state to output.
func (l *LED) Run() {
	l.mu.Lock()
	now := l.now()
	if l.blink && now.Sub(l.lastToggle) >= BlinkInterval {
		l.state = !l.state
		l.lastToggle = now
	}
	if l.pulse && now.Sub(l.pulseStart) >= PulseLength {
		l.pulse = false
		l.state = false
	}
	state := l.state
	l.mu.Unlock()

	if l.write != nil {
		l.write(state)
	}
}
