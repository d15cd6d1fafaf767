package mlcb

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMessagesPerPoll is how many received frames are processed by single Process call so the application
	// does not appear unresponsive under heavy bus load.
	DefaultMessagesPerPoll = 3
	// DefaultHeartbeatInterval is interval between HEARTB messages.
	DefaultHeartbeatInterval = 5 * time.Second

	// negotiationTimeout is how long node waits for SNN after it has sent RQNN.
	negotiationTimeout = 30 * time.Second
	// switchHoldTime is how long switch must be held down for SLiM/FLiM transition.
	switchHoldTime = 8 * time.Second
	// pacedFrameInterval is minimum time between frames sent from outbox (event dumps, service lists).
	pacedFrameInterval = 10 * time.Millisecond
	outboxSize         = 300

	// moduleNameLength is length of module name in NAME response. Name does not include "CAN" prefix.
	moduleNameLength = 7
)

// Mode is node identity mode.
type Mode uint8

const (
	// ModeSLiM is mode where node has no node number and CANID is 0.
	ModeSLiM Mode = 0
	// ModeFLiM is mode where node has node number assigned and CANID is enumerated.
	ModeFLiM Mode = 1
	// ModeChanging is transient mode where node has requested node number and waits for SNN.
	ModeChanging Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModeSLiM:
		return "SLiM"
	case ModeFLiM:
		return "FLiM"
	case ModeChanging:
		return "changing"
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Counters are node message counters. They are reported with RDGN diagnostics.
type Counters struct {
	Sent              uint32 `json:"sent"`
	Received          uint32 `json:"received"`
	Actioned          uint32 `json:"actioned"`
	NodeNumberChanges uint32 `json:"node_number_changes"`
}

// Config is configuration for Node.
type Config struct {
	Params Params
	// Name is module name without "CAN" prefix. Up to 7 characters.
	Name string

	// MessagesPerPoll limits received frames processed by single Process call. Defaults to DefaultMessagesPerPoll.
	MessagesPerPoll int
	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	DisableHeartbeat  bool

	// Logger defaults to logrus standard logger.
	Logger logrus.FieldLogger
}

// Node is MLCB protocol engine for single module. All work is done inside Process that must be called frequently
// from application loop. Node is not safe for concurrent use.
type Node struct {
	transport Transport
	store     Store
	params    Params
	name      [moduleNameLength]byte
	logger    logrus.FieldLogger

	messagesPerPoll   int
	heartbeatInterval time.Duration

	now     func() time.Time
	started time.Time

	ledGreen  Indicator
	ledYellow Indicator
	sw        Switch

	eventHandler   EventHandler
	eventHandlerEx EventHandlerEx
	frameHandler   FrameHandler
	frameOpCodes   []OpCode
	multipart      FragmentProcessor

	modeChanging  bool
	changingStart time.Time
	enum          enumeration
	learn         bool

	heartbeat      bool
	heartbeatCount uint8
	heartbeatLast  time.Time

	outbox     *queue[Frame]
	outboxLast time.Time

	counters Counters
}

// NewNode creates new Node using given transport and configuration store.
func NewNode(transport Transport, store Store, config Config) (*Node, error) {
	if transport == nil {
		return nil, errors.New("node transport can not be nil")
	}
	if store == nil {
		return nil, errors.New("node store can not be nil")
	}
	if len(config.Name) > moduleNameLength {
		return nil, fmt.Errorf("module name can be up to %v characters", moduleNameLength)
	}
	n := &Node{
		transport: transport,
		store:     store,
		params:    config.Params,
		logger:    config.Logger,

		messagesPerPoll:   config.MessagesPerPoll,
		heartbeatInterval: config.HeartbeatInterval,
		heartbeat:         !config.DisableHeartbeat,

		now:    time.Now,
		outbox: newQueue[Frame](outboxSize),
	}
	if n.logger == nil {
		n.logger = logrus.StandardLogger()
	}
	if n.messagesPerPoll <= 0 {
		n.messagesPerPoll = DefaultMessagesPerPoll
	}
	if n.heartbeatInterval <= 0 {
		n.heartbeatInterval = DefaultHeartbeatInterval
	}
	for i := range n.name {
		n.name[i] = ' '
	}
	copy(n.name[:], config.Name)

	n.params.setFlag(FlagFLiM, store.FLiM())
	n.started = n.now()
	n.heartbeatLast = n.started
	return n, nil
}

// SetEventHandler registers handler for received accessory events that match learned events.
func (n *Node) SetEventHandler(handler EventHandler) {
	n.eventHandler = handler
}

// SetEventHandlerEx registers extended handler for received accessory events that match learned events.
func (n *Node) SetEventHandlerEx(handler EventHandlerEx) {
	n.eventHandlerEx = handler
}

// SetFrameHandler registers handler for all received frames. When opcodes are given only frames with these opcodes
// are passed to handler.
func (n *Node) SetFrameHandler(handler FrameHandler, opcodes ...OpCode) {
	n.frameHandler = handler
	n.frameOpCodes = append([]OpCode{}, opcodes...)
}

// SetMultipartProcessor registers multipart message processor. DTXC frames are passed to it and it is polled on
// every Process call.
func (n *Node) SetMultipartProcessor(p FragmentProcessor) {
	n.multipart = p
}

// SetIndicators assigns green (SLiM) and yellow (FLiM) LEDs.
func (n *Node) SetIndicators(green Indicator, yellow Indicator) {
	n.ledGreen = green
	n.ledYellow = yellow
	n.indicateMode(n.Mode())
}

// SetSwitch assigns push button used for mode change gestures.
func (n *Node) SetSwitch(sw Switch) {
	n.sw = sw
}

// Mode returns current node mode.
func (n *Node) Mode() Mode {
	if n.modeChanging {
		return ModeChanging
	}
	if n.store.FLiM() {
		return ModeFLiM
	}
	return ModeSLiM
}

// NodeNumber returns current node number. 0 means that node has no node number.
func (n *Node) NodeNumber() uint16 {
	return n.store.NodeNumber()
}

// CANID returns current bus address.
func (n *Node) CANID() uint8 {
	return n.store.CANID()
}

// IsLearning returns true when node is in learn mode.
func (n *Node) IsLearning() bool {
	return n.learn
}

// Counters returns copy of message counters.
func (n *Node) Counters() Counters {
	return n.counters
}

// Params returns copy of current parameter block.
func (n *Node) Params() Params {
	return n.params
}

// InitFLiM starts transition to FLiM by requesting node number (RQNN). Node stays in changing mode until SNN is
// received or negotiation times out.
func (n *Node) InitFLiM() {
	n.indicateMode(ModeChanging)
	n.modeChanging = true
	n.changingStart = n.now()

	n.logger.WithField("nn", n.store.NodeNumber()).Info("requesting node number")
	n.sendNodeNumberMessage(OpcRQNN)
}

// Renegotiate changes or re-confirms node number.
func (n *Node) Renegotiate() {
	n.InitFLiM()
}

// RevertSLiM releases node number (NNREL) and reverts node to SLiM mode.
func (n *Node) RevertSLiM() {
	n.logger.WithField("nn", n.store.NodeNumber()).Info("reverting to SLiM")
	n.sendNodeNumberMessage(OpcNNREL)
	n.setSLiM()
}

func (n *Node) setSLiM() {
	n.modeChanging = false
	n.learn = false
	n.enum = enumeration{}
	n.outbox.Clear()
	if err := n.store.SetNodeNumber(0); err != nil {
		n.logger.WithError(err).Warn("failed to store node number")
	}
	if err := n.store.SetFLiM(false); err != nil {
		n.logger.WithError(err).Warn("failed to store mode")
	}
	if err := n.store.SetCANID(0); err != nil {
		n.logger.WithError(err).Warn("failed to store CANID")
	}
	n.params.setFlag(FlagFLiM, false)
	n.params.setFlag(FlagLearn, false)
	n.indicateMode(ModeSLiM)
}

// acceptNodeNumber commits node number offered by SNN while in changing mode.
func (n *Node) acceptNodeNumber(nn uint16) {
	if err := n.store.SetNodeNumber(nn); err != nil {
		n.logger.WithError(err).Warn("failed to store node number")
	}
	n.counters.NodeNumberChanges++
	n.sendNodeNumberMessage(OpcNNACK)

	n.modeChanging = false
	if err := n.store.SetFLiM(true); err != nil {
		n.logger.WithError(err).Warn("failed to store mode")
	}
	n.params.setFlag(FlagFLiM, true)
	n.indicateMode(ModeFLiM)
	n.logger.WithField("nn", nn).Info("node number assigned")

	// node has no CANID yet
	n.enum.required = true
}

func (n *Node) checkNegotiationTimeout() {
	if !n.modeChanging || n.now().Sub(n.changingStart) < negotiationTimeout {
		return
	}
	n.modeChanging = false
	n.indicateMode(n.Mode())
	n.logger.Info("node number negotiation timed out")

	// node restates its previous identity
	if n.store.NodeNumber() > 0 {
		n.sendNodeNumberMessage(OpcNNACK)
	}
}

func (n *Node) indicateMode(mode Mode) {
	if n.ledGreen == nil || n.ledYellow == nil {
		return
	}
	switch mode {
	case ModeFLiM:
		n.ledYellow.On()
		n.ledGreen.Off()
	case ModeSLiM:
		n.ledYellow.Off()
		n.ledGreen.On()
	case ModeChanging:
		n.ledYellow.Blink()
		n.ledGreen.Off()
	}
}

// Process is main processing step of the node. It handles switch gestures, heartbeat, up to MessagesPerPoll
// received frames, paced outgoing frames, enumeration and negotiation timers and multipart processor.
// Process never blocks.
func (n *Node) Process() {
	if n.enum.required {
		n.startEnumeration()
	}

	n.processUI()
	n.processHeartbeat()

	for i := 0; i < n.messagesPerPoll && n.transport.Available(); i++ {
		frame, err := n.transport.ReadFrame()
		if err != nil {
			if !errors.Is(err, ErrNoFrame) {
				n.logger.WithError(err).Warn("failed to read frame")
			}
			break
		}
		n.handleFrame(frame)
	}

	n.processOutbox()
	n.checkEnumeration()
	n.checkNegotiationTimeout()

	if n.multipart != nil {
		n.multipart.Process()
	}
}

func (n *Node) processUI() {
	if n.ledGreen != nil && n.ledYellow != nil {
		n.ledGreen.Run()
		n.ledYellow.Run()
	}
	if n.sw == nil {
		return
	}
	n.sw.Run()

	// tell user that switch can be released
	if n.sw.IsPressed() && n.sw.CurrentStateDuration() > switchHoldTime {
		n.indicateMode(ModeChanging)
	}
	if !n.sw.StateChanged() || n.sw.IsPressed() {
		return
	}

	pressed := n.sw.LastStateDuration()
	switch {
	case pressed > switchHoldTime:
		if !n.store.FLiM() {
			n.InitFLiM()
		} else {
			n.RevertSLiM()
		}
	case pressed >= 1*time.Second && pressed < 2*time.Second:
		n.Renegotiate()
	case pressed < 500*time.Millisecond && n.store.FLiM():
		n.startEnumeration()
	}
}

func (n *Node) processHeartbeat() {
	if !n.heartbeat || !n.store.FLiM() || n.store.NodeNumber() == 0 {
		return
	}
	now := n.now()
	if now.Sub(n.heartbeatLast) < n.heartbeatInterval {
		return
	}
	n.heartbeatLast = now

	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcHEARTB, byte(nn>>8), byte(nn), n.heartbeatCount, 0, 0), DefaultPriority)
	n.heartbeatCount++
}

// processOutbox sends at most one queued frame per call with at least pacedFrameInterval between frames.
func (n *Node) processOutbox() {
	if n.outbox.Len() == 0 {
		return
	}
	now := n.now()
	if now.Sub(n.outboxLast) < pacedFrameInterval {
		return
	}
	frame, _ := n.outbox.Dequeue()
	n.outboxLast = now
	n.sendFrame(frame, DefaultPriority)
}

func (n *Node) enqueueFrame(frame Frame) {
	if !n.outbox.Enqueue(frame) {
		n.logger.WithField("opcode", frame.OpCode()).Warn("outbox is full, dropping frame")
	}
}

// SendFrame sends frame with our CANID and given priority. Implements FrameSender.
func (n *Node) SendFrame(frame Frame, priority uint8) error {
	frame.ID = Header{Priority: priority, CANID: n.store.CANID()}.Uint32()
	if err := n.transport.WriteFrame(frame); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	n.counters.Sent++
	return nil
}

func (n *Node) sendFrame(frame Frame, priority uint8) {
	if err := n.SendFrame(frame, priority); err != nil {
		n.logger.WithError(err).WithField("opcode", frame.OpCode()).Warn("send failed")
	}
}

func (n *Node) sendNodeNumberMessage(opc OpCode) {
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(opc, byte(nn>>8), byte(nn)), DefaultPriority)
}

func (n *Node) sendWRACK() {
	n.sendNodeNumberMessage(OpcWRACK)
}

func (n *Node) sendCMDERR(code CommandError) {
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcCMDERR, byte(nn>>8), byte(nn), byte(code)), DefaultPriority)
}

func (n *Node) sendGRSP(requested OpCode, service uint8, result CommandError) {
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcGRSP, byte(nn>>8), byte(nn), byte(requested), service, byte(result)), DefaultPriority)
}
