package mlcb

import "time"

const (
	// enumerationWindow is how long responses to enumeration probe are collected
	enumerationWindow = 100 * time.Millisecond
	// maxCANID is largest CANID that enumeration can select
	maxCANID = 127
	// fallbackCANID is selected when all CANIDs 1-127 are in use
	fallbackCANID = 1
)

// addressSet is 128 bit set with one bit for each possible CANID. Bit 0 belongs to reserved CANID 0 and is never
// considered free.
type addressSet [16]byte

func (s *addressSet) Set(canID uint8) {
	if canID == 0 || canID > maxCANID {
		return
	}
	s[canID/8] |= 1 << (canID % 8)
}

func (s *addressSet) IsSet(canID uint8) bool {
	if canID > maxCANID {
		return false
	}
	return s[canID/8]&(1<<(canID%8)) != 0
}

func (s *addressSet) Reset() {
	*s = addressSet{}
}

// FirstFree returns lowest CANID in range 1-127 that has no response or fallbackCANID when all are taken.
func (s *addressSet) FirstFree() uint8 {
	for i, b := range s {
		if b == 0xff { // all 8 CANIDs in this byte are taken
			continue
		}
		for bit := uint8(0); bit < 8; bit++ {
			canID := uint8(i)*8 + bit
			if canID == 0 {
				continue
			}
			if b&(1<<bit) == 0 {
				return canID
			}
		}
	}
	return fallbackCANID
}

// enumeration is CANID self-enumeration cycle state. Node sends probe (zero length RTR frame) and all other nodes
// answer with zero length frame carrying their CANID. After enumerationWindow has passed lowest unused CANID is taken.
type enumeration struct {
	required  bool
	active    bool
	start     time.Time
	responses addressSet
}

// startEnumeration starts CANID enumeration cycle. Cycle could be started due ENUM opcode, CANID collision, user
// button press or after node number has been assigned.
func (n *Node) startEnumeration() {
	n.enum.required = false
	n.enum.active = true
	n.enum.start = n.now()
	n.enum.responses.Reset()

	n.logger.WithField("canid", n.store.CANID()).Debug("starting CANID enumeration")
	n.sendFrame(Frame{RTR: true}, DefaultPriority)
}

// recordEnumerationResponse stores CANID of the node that answered our probe.
func (n *Node) recordEnumerationResponse(canID uint8) {
	n.enum.responses.Set(canID)
}

// checkEnumeration finishes enumeration cycle when collection window has passed.
func (n *Node) checkEnumeration() {
	if !n.enum.active || n.now().Sub(n.enum.start) < enumerationWindow {
		return
	}
	selected := n.enum.responses.FirstFree()
	n.enum.active = false
	n.enum.start = time.Time{}

	if err := n.store.SetCANID(selected); err != nil {
		n.logger.WithError(err).Warn("failed to store enumerated CANID")
	}
	n.logger.WithField("canid", selected).Info("CANID enumeration done")
	n.sendNodeNumberMessage(OpcNNACK)
}

// IsEnumerating returns true while enumeration responses are being collected.
func (n *Node) IsEnumerating() bool {
	return n.enum.active
}

// StartEnumeration requests CANID enumeration cycle. Cycle starts on next Process call.
func (n *Node) StartEnumeration() {
	n.enum.required = true
}
