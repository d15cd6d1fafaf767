package mlcb

import (
	"errors"
	"time"
)

// ErrNoFrame is returned by FrameReader.ReadFrame when there are no received frames waiting.
var ErrNoFrame = errors.New("no frame available")

// FrameReader is receiving side of the CAN transport. Implementations must not block.
type FrameReader interface {
	// Available returns true when at least one received frame is queued.
	Available() bool
	// ReadFrame returns next queued frame or ErrNoFrame.
	ReadFrame() (Frame, error)
}

// FrameWriter is sending side of the CAN transport.
type FrameWriter interface {
	WriteFrame(frame Frame) error
}

// Transport is CAN bus connection used by Node.
type Transport interface {
	FrameReader
	FrameWriter
	Close() error
}

// Store is persistent module configuration: node identity, node variables and learned event table.
//
// Node variables and event variables are indexed from 1. Event table slots are indexed from 0 to MaxEvents-1.
type Store interface {
	NodeNumber() uint16
	SetNodeNumber(nn uint16) error
	CANID() uint8
	SetCANID(canID uint8) error
	FLiM() bool
	SetFLiM(isFLiM bool) error

	NumNVs() uint8
	ReadNV(index uint8) (uint8, error)
	WriteNV(index uint8, value uint8) error

	MaxEvents() uint8
	NumEVs() uint8
	// FindEvent searches derived index for event with given key. Short events have node number 0.
	FindEvent(nn uint16, en uint16) (uint8, bool)
	FindFreeSlot() (uint8, bool)
	// IsSlotUsed is derived index lookup for given event table slot.
	IsSlotUsed(index uint8) bool
	ReadEvent(index uint8) (nn uint16, en uint16, err error)
	WriteEvent(index uint8, nn uint16, en uint16) error
	ReadEV(index uint8, evIndex uint8) (uint8, error)
	WriteEV(index uint8, evIndex uint8, value uint8) error
	ClearEvent(index uint8) error
	ClearAllEvents() error
	// UpdateIndexEntry refreshes derived index for single event table slot after it has been written or cleared.
	UpdateIndexEntry(index uint8) error
	RebuildIndex() error
}

// Indicator is LED (or any other visual indicator) with non-blocking operations. Run is called on every poll.
type Indicator interface {
	On()
	Off()
	Blink()
	Pulse()
	Run()
}

// Switch is debounced push button. Run is called on every poll.
type Switch interface {
	Run()
	IsPressed() bool
	// StateChanged returns true once after switch state has changed.
	StateChanged() bool
	CurrentStateDuration() time.Duration
	LastStateDuration() time.Duration
}

// EventHandler is called for received accessory event that matches learned event. Index is event table slot.
type EventHandler func(index uint8, frame Frame)

// EventHandlerEx is extended form of EventHandler that receives event polarity and value of the first event variable.
type EventHandlerEx func(index uint8, frame Frame, isOn bool, firstEV uint8)

// FrameHandler is called with every received frame.
type FrameHandler func(frame Frame)

// FrameSender sends frame with given priority filling in sender CANID.
type FrameSender interface {
	SendFrame(frame Frame, priority uint8) error
}

// FragmentProcessor receives multipart message (DTXC) frames from Node and is polled on every Node.Process call.
type FragmentProcessor interface {
	HandleFragment(frame Frame)
	Process()
}
