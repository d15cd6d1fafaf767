package mlcb

// DefaultPriority is default message priority. 0b1011 is major priority 2 (normal) and minor priority 3 (low).
const DefaultPriority uint8 = 0xB

// Header holds fields encoded into standard 11 bit CAN identifier.
type Header struct {
	// Priority is 4 bit field. Upper 2 bits are major priority and lower 2 bits minor priority.
	Priority uint8 `json:"priority"`
	// CANID is 7 bit bus address of the node that sent the frame. 0 is reserved and never assigned to FLiM node.
	CANID uint8 `json:"canid"`
}

// Uint32 encodes header as 11 bit CAN identifier.
func (h Header) Uint32() uint32 {
	id := uint32(h.CANID & 0x7f)       // bits 0-6
	id |= uint32(h.Priority&0x0f) << 7 // bits 7-10
	return id
}

// ParseHeader parses header fields from CAN identifier. For extended identifiers only lowest 11 bits are used.
func ParseHeader(canID uint32) Header {
	return Header{
		Priority: uint8((canID >> 7) & 0x0f), // bits 7-10
		CANID:    uint8(canID & 0x7f),        // bits 0-6
	}
}
