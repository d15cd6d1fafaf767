package mlcb

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned when transport is used after it has been closed.
var ErrClosed = errors.New("transport closed")

const loopbackQueueSize = 512

// LoopbackBus is in-memory CAN bus for tests and simulations. Frames written by one endpoint are delivered to all
// other endpoints of the same bus.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	endpoints map[*LoopbackEndpoint]struct{}
}

// NewLoopbackBus creates new loopback bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{endpoints: make(map[*LoopbackEndpoint]struct{})}
}

// Open creates new endpoint attached to the bus.
func (b *LoopbackBus) Open() *LoopbackEndpoint {
	ep := &LoopbackEndpoint{
		bus: b,
		ch:  make(chan Frame, loopbackQueueSize),
		now: time.Now,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.dead = true
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.markDead()
	}
	b.endpoints = nil
	return nil
}

// LoopbackEndpoint is single node connection to LoopbackBus. Implements Transport.
type LoopbackEndpoint struct {
	bus *LoopbackBus
	ch  chan Frame
	now func() time.Time

	mu      sync.Mutex
	dead    bool
	dropped uint64
}

// WriteFrame broadcasts frame to all other endpoints on the same bus. Frame is dropped for endpoints whose receive
// queue is full.
func (e *LoopbackEndpoint) WriteFrame(frame Frame) error {
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if e.bus.closed {
		return ErrClosed
	}
	frame.Time = e.now()
	for ep := range e.bus.endpoints {
		if ep == e {
			continue
		}
		select {
		case ep.ch <- frame:
		default:
			ep.mu.Lock()
			ep.dropped++
			ep.mu.Unlock()
		}
	}
	return nil
}

// Available returns true when received frame is waiting.
func (e *LoopbackEndpoint) Available() bool {
	return len(e.ch) > 0
}

// ReadFrame returns next received frame or ErrNoFrame when none is waiting. Does not block.
func (e *LoopbackEndpoint) ReadFrame() (Frame, error) {
	select {
	case f := <-e.ch:
		return f, nil
	default:
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Frame{}, ErrClosed
	}
	return Frame{}, ErrNoFrame
}

// Dropped returns number of frames dropped due full receive queue.
func (e *LoopbackEndpoint) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close detaches endpoint from bus.
func (e *LoopbackEndpoint) Close() error {
	e.bus.mu.Lock()
	defer e.bus.mu.Unlock()
	e.markDead()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	return nil
}

func (e *LoopbackEndpoint) markDead() {
	e.mu.Lock()
	e.dead = true
	e.mu.Unlock()
}
