package mlcb

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// MaxFrameLength is maximum payload length of classic CAN frame.
const MaxFrameLength = 8

// Frame is single CAN frame as it is sent to or received from the bus.
//
// For standard frames identifier is 11 bits where bits 7-10 are priority and bits 0-6 are CANID of the sender
// (see Header). Extended (29 bit) frames are used by bootloaders and are passed through but never interpreted.
type Frame struct {
	// Time is when frame was read from the bus. Filled by transport.
	Time time.Time

	ID       uint32
	Extended bool
	// RTR is remote transmission request flag. Zero length RTR frame is used as CANID enumeration probe.
	RTR    bool
	Length uint8 // 0-8
	Data   [8]byte
}

// NewFrame creates frame with given opcode and payload bytes following the opcode. Header is filled by the
// sender so ID is left empty.
func NewFrame(opc OpCode, data ...byte) Frame {
	if len(data) > MaxFrameLength-1 {
		panic("frame payload longer than 7 bytes")
	}
	f := Frame{Length: uint8(1 + len(data))}
	f.Data[0] = byte(opc)
	copy(f.Data[1:], data)
	return f
}

// Header returns header fields decoded from frame identifier.
func (f Frame) Header() Header {
	return ParseHeader(f.ID)
}

// CANID returns bus address of the node that sent the frame.
func (f Frame) CANID() uint8 {
	return uint8(f.ID & 0x7f)
}

// OpCode returns operation code (first data byte) of the frame.
func (f Frame) OpCode() OpCode {
	return OpCode(f.Data[0])
}

// NodeNumber returns node number field (data bytes 1-2, big endian).
func (f Frame) NodeNumber() uint16 {
	return binary.BigEndian.Uint16(f.Data[1:3])
}

// EventNumber returns event number field (data bytes 3-4, big endian).
func (f Frame) EventNumber() uint16 {
	return binary.BigEndian.Uint16(f.Data[3:5])
}

// Payload returns slice of valid data bytes.
func (f Frame) Payload() []byte {
	l := f.Length
	if l > MaxFrameLength {
		l = MaxFrameLength
	}
	return f.Data[:l]
}

// IsProbe returns true for CANID enumeration probe (zero length remote frame).
func (f Frame) IsProbe() bool {
	return f.RTR && f.Length == 0
}

// String returns frame in candump-like format. Example: `5A5 [3] 52 01 02`
func (f Frame) String() string {
	sb := strings.Builder{}
	if f.Extended {
		sb.WriteString(fmt.Sprintf("%08X", f.ID))
	} else {
		sb.WriteString(fmt.Sprintf("%03X", f.ID))
	}
	sb.WriteString(fmt.Sprintf(" [%d]", f.Length))
	if f.RTR {
		sb.WriteString(" RTR")
		return sb.String()
	}
	for _, b := range f.Payload() {
		sb.WriteString(fmt.Sprintf(" %02X", b))
	}
	return sb.String()
}
