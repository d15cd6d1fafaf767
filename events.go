package mlcb

// processAccessoryEvent looks up received accessory event from learned event table and calls registered event
// handlers. Returns false when event was not learned.
func (n *Node) processAccessoryEvent(frame Frame, isOn bool, isShort bool) bool {
	if n.eventHandler == nil && n.eventHandlerEx == nil {
		return false
	}
	nn := frame.NodeNumber()
	if isShort {
		nn = 0
	}
	index, ok := n.store.FindEvent(nn, frame.EventNumber())
	if !ok {
		return false
	}

	if n.eventHandler != nil {
		n.eventHandler(index, frame)
	}
	if n.eventHandlerEx != nil {
		var firstEV uint8
		if n.store.NumEVs() > 0 {
			v, err := n.store.ReadEV(index, 1)
			if err != nil {
				n.logger.WithError(err).WithField("index", index).Warn("failed to read event variable")
			}
			firstEV = v
		}
		n.eventHandlerEx(index, frame, isOn, firstEV)
	}
	return true
}

// EventEntry is single learned event table entry.
type EventEntry struct {
	Index       uint8  `json:"index"`
	NodeNumber  uint16 `json:"nn"`
	EventNumber uint16 `json:"en"`
	Variables   []int  `json:"evs"`
}

// Events returns all learned events from event table ordered by slot index.
func (n *Node) Events() ([]EventEntry, error) {
	result := make([]EventEntry, 0)
	for i := 0; i < int(n.store.MaxEvents()); i++ {
		index := uint8(i)
		if !n.store.IsSlotUsed(index) {
			continue
		}
		nn, en, err := n.store.ReadEvent(index)
		if err != nil {
			return nil, err
		}
		e := EventEntry{Index: index, NodeNumber: nn, EventNumber: en, Variables: make([]int, n.store.NumEVs())}
		for ev := range e.Variables {
			v, err := n.store.ReadEV(index, uint8(ev+1))
			if err != nil {
				return nil, err
			}
			e.Variables[ev] = int(v)
		}
		result = append(result, e)
	}
	return result, nil
}

func (n *Node) countFreeSlots() (used uint8, free uint8) {
	for i := 0; i < int(n.store.MaxEvents()); i++ {
		if n.store.IsSlotUsed(uint8(i)) {
			used++
		} else {
			free++
		}
	}
	return used, free
}
