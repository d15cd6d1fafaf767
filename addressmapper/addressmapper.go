// Package addressmapper keeps track of other nodes seen on the bus by observing their frames.
package addressmapper

import (
	"sort"
	"sync"
	"time"

	"github.com/aldas/go-mlcb"
)

// Node is node seen on the bus.
type Node struct {
	CANID      uint8     `json:"canid"`
	NodeNumber uint16    `json:"nn"`
	LastSeen   time.Time `json:"last_seen"`

	// Manufacturer, ModuleID and Flags are known when node has answered QNN with PNN.
	Manufacturer uint8 `json:"manufacturer"`
	ModuleID     uint8 `json:"module_id"`
	Flags        uint8 `json:"flags"`
	ValidParams  bool  `json:"valid_params"`

	// Heartbeats is number of HEARTB messages seen from this node.
	Heartbeats uint32 `json:"heartbeats"`
}

// Nodes is list of nodes.
type Nodes []Node

type busSlot struct {
	node       *Node
	lastPacket time.Time
}

// AddressMapper maps CANIDs seen on the bus to node numbers. Process is meant to be registered as node frame handler.
// Nodes can be read concurrently from other goroutines.
type AddressMapper struct {
	mutex sync.Mutex
	now   func() time.Time

	address2node map[uint8]*busSlot
	knownNodes   map[uint16]*Node
}

// NewAddressMapper creates new AddressMapper.
func NewAddressMapper() *AddressMapper {
	return &AddressMapper{
		now:          time.Now,
		address2node: map[uint8]*busSlot{},
		knownNodes:   map[uint16]*Node{},
	}
}

// QueryNodesFrame returns QNN frame that asks all nodes with node number to announce themselves.
func QueryNodesFrame() mlcb.Frame {
	return mlcb.NewFrame(mlcb.OpcQNN)
}

// Process records frame sender. Returns true when CANID to node number mapping changed.
func (m *AddressMapper) Process(frame mlcb.Frame) bool {
	if frame.Extended || frame.RTR {
		return false
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	seen := frame.Time
	if seen.IsZero() {
		seen = m.now()
	}
	canID := frame.CANID()
	slot := m.address2node[canID]
	if slot == nil {
		slot = new(busSlot)
		m.address2node[canID] = slot
	}
	slot.lastPacket = seen
	if slot.node != nil {
		slot.node.LastSeen = seen
	}
	if frame.Length < 3 {
		return false
	}

	nn := frame.NodeNumber()
	switch frame.OpCode() {
	case mlcb.OpcNNACK, mlcb.OpcRQNN:
		return m.claim(slot, canID, nn, seen)
	case mlcb.OpcHEARTB:
		changed := m.claim(slot, canID, nn, seen)
		slot.node.Heartbeats++
		return changed
	case mlcb.OpcPNN:
		changed := m.claim(slot, canID, nn, seen)
		if frame.Length >= 6 {
			slot.node.Manufacturer = frame.Data[3]
			slot.node.ModuleID = frame.Data[4]
			slot.node.Flags = frame.Data[5]
			slot.node.ValidParams = true
		}
		return changed
	case mlcb.OpcNNREL:
		if node := m.knownNodes[nn]; node != nil && slot.node == node {
			slot.node = nil
			node.CANID = 0
			return true
		}
	}
	return false
}

// claim assigns node with given node number to CANID slot.
func (m *AddressMapper) claim(slot *busSlot, canID uint8, nn uint16, seen time.Time) bool {
	if nn == 0 { // SLiM node
		if slot.node == nil {
			slot.node = &Node{}
		}
		slot.node.CANID = canID
		slot.node.LastSeen = seen
		return false
	}
	currentNode, ok := m.knownNodes[nn]
	if !ok {
		currentNode = &Node{NodeNumber: nn}
		m.knownNodes[nn] = currentNode
	}
	currentNode.LastSeen = seen

	if slot.node == currentNode && currentNode.CANID == canID {
		return false
	}
	// node may have re-enumerated from other CANID
	if old, ok := m.address2node[currentNode.CANID]; ok && old.node == currentNode && currentNode.CANID != canID {
		old.node = nil
	}
	currentNode.CANID = canID
	slot.node = currentNode
	return true
}

// Nodes returns all known nodes that have node number, ordered by node number.
func (m *AddressMapper) Nodes() Nodes {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make(Nodes, 0, len(m.knownNodes))
	for _, n := range m.knownNodes {
		result = append(result, *n)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NodeNumber < result[j].NodeNumber
	})
	return result
}

// NodesInUseByCANID returns nodes that are currently assigned to CANID.
func (m *AddressMapper) NodesInUseByCANID() map[uint8]Node {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make(map[uint8]Node)
	for canID, slot := range m.address2node {
		if slot.node == nil {
			continue
		}
		result[canID] = *slot.node
	}
	return result
}
