package mlcb

import "time"

// Status is point in time snapshot of node state. It is safe to pass to other goroutines.
type Status struct {
	Time        time.Time     `json:"time"`
	Name        string        `json:"name"`
	NodeNumber  uint16        `json:"nn"`
	CANID       uint8         `json:"canid"`
	Mode        Mode          `json:"mode"`
	Learn       bool          `json:"learn"`
	Enumerating bool          `json:"enumerating"`
	Heartbeat   bool          `json:"heartbeat"`
	Uptime      time.Duration `json:"uptime"`
	Counters    Counters      `json:"counters"`
	Params      []int         `json:"params"`
}

// Status returns snapshot of current node state.
func (n *Node) Status() Status {
	now := n.now()
	params := make([]int, len(n.params))
	for i, p := range n.params {
		params[i] = int(p)
	}
	return Status{
		Time:        now,
		Name:        string(n.name[:]),
		NodeNumber:  n.store.NodeNumber(),
		CANID:       n.store.CANID(),
		Mode:        n.Mode(),
		Learn:       n.learn,
		Enumerating: n.enum.active,
		Heartbeat:   n.heartbeat,
		Uptime:      now.Sub(n.started),
		Counters:    n.counters,
		Params:      params,
	}
}
