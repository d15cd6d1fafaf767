package mlcb

import (
	"github.com/sirupsen/logrus"
)

// service is entry in service discovery list
type service struct {
	id      uint8
	version uint8
}

var services = []service{
	{id: ServiceMNS, version: 1},
	{id: ServiceNV, version: 1},
	{id: ServiceCAN, version: 1},
	{id: ServiceTeach, version: 1},
	{id: ServiceProducer, version: 1},
	{id: ServiceConsumer, version: 1},
}

// Diagnostic codes for RDGN request
const (
	diagUptimeHigh        uint8 = 2
	diagUptimeLow         uint8 = 3
	diagNodeNumberChanges uint8 = 5
	diagActioned          uint8 = 7
)

// handleFrame does all bus level processing of single received frame and dispatches it by opcode.
func (n *Node) handleFrame(frame Frame) {
	n.counters.Received++

	if n.frameHandler != nil && n.acceptsOpCode(frame.OpCode()) {
		n.frameHandler(frame)
	}
	if n.ledGreen != nil {
		n.ledGreen.Pulse()
	}

	// enumeration probe from another node. Empty frame announces our CANID
	if frame.RTR {
		if !n.enum.active {
			n.sendFrame(Frame{}, DefaultPriority)
		}
		return
	}

	canID := n.store.CANID()
	if frame.Length > 0 && canID != 0 && frame.CANID() == canID && !frame.Extended {
		n.logger.WithField("canid", canID).Debug("CANID collision detected")
		n.enum.required = true
	}

	// bootloader and other extended frame traffic is not ours to interpret
	if frame.Extended {
		return
	}

	if n.enum.active && frame.Length == 0 {
		n.recordEnumerationResponse(frame.CANID())
		return
	}
	if frame.Length == 0 {
		return
	}

	if n.dispatch(frame) {
		n.counters.Actioned++
	}
}

func (n *Node) acceptsOpCode(opc OpCode) bool {
	if len(n.frameOpCodes) == 0 {
		return true
	}
	for _, o := range n.frameOpCodes {
		if o == opc {
			return true
		}
	}
	return false
}

// isForUs returns true when frame node number field equals our node number.
func (n *Node) isForUs(frame Frame) bool {
	return frame.NodeNumber() == n.store.NodeNumber()
}

// dispatch handles frame by its opcode. Returns true when frame was actioned.
func (n *Node) dispatch(frame Frame) bool {
	opc := frame.OpCode()
	if isEvent, isOn, isShort := isAccessoryEvent(opc); isEvent {
		return n.processAccessoryEvent(frame, isOn, isShort)
	}

	switch opc {
	case OpcRQNP:
		return n.handleRQNP()
	case OpcRQMN:
		return n.handleRQMN()
	case OpcSNN:
		return n.handleSNN(frame)
	case OpcQNN:
		return n.handleQNN()
	case OpcDTXC:
		if n.multipart == nil {
			return false
		}
		n.multipart.HandleFragment(frame)
		return true
	case OpcEVLRN:
		return n.handleEVLRN(frame)
	case OpcEVULN:
		return n.handleEVULN(frame)
	case OpcREQEV:
		return n.handleREQEV(frame)
	case OpcBOOT, OpcRSTAT, OpcHEARTB:
		return false
	}

	// rest of the opcodes are addressed to single node
	if !n.isForUs(frame) {
		return false
	}
	switch opc {
	case OpcRQNPN:
		return n.handleRQNPN(frame)
	case OpcCANID:
		return n.handleCANID(frame)
	case OpcENUM:
		return n.handleENUM(frame)
	case OpcNVRD:
		return n.handleNVRD(frame)
	case OpcNVSET:
		return n.handleNVSET(frame, false)
	case OpcNVSETRD:
		return n.handleNVSET(frame, true)
	case OpcNNLRN:
		n.setLearn(true)
		return true
	case OpcNNULN:
		n.setLearn(false)
		return true
	case OpcRQEVN:
		return n.handleRQEVN()
	case OpcNNEVN:
		return n.handleNNEVN()
	case OpcNERD:
		return n.handleNERD()
	case OpcNENRD:
		return n.handleNENRD(frame)
	case OpcREVAL:
		return n.handleREVAL(frame)
	case OpcNNCLR:
		return n.handleNNCLR()
	case OpcAREQ:
		return n.handleAREQ(frame)
	case OpcMODE:
		return n.handleMODE(frame)
	case OpcRDGN:
		return n.handleRDGN(frame)
	case OpcRQSD:
		return n.handleRQSD(frame)
	}
	n.logger.WithField("opcode", opc).Debug("unhandled opcode")
	return false
}

func (n *Node) setLearn(isLearn bool) {
	n.learn = isLearn
	n.params.setFlag(FlagLearn, isLearn)
	n.logger.WithField("learn", isLearn).Info("learn mode changed")
}

// handleRQNP answers parameter request without node number. Only node in transition to FLiM answers it.
func (n *Node) handleRQNP() bool {
	if !n.modeChanging {
		return false
	}
	p := n.params
	n.sendFrame(NewFrame(OpcPARAMS, p[1], p[2], p[3], p[4], p[5], p[6], p[7]), DefaultPriority)
	return true
}

func (n *Node) handleRQMN() bool {
	if !n.modeChanging {
		return false
	}
	n.sendFrame(NewFrame(OpcNAME, n.name[:]...), DefaultPriority)
	return true
}

func (n *Node) handleSNN(frame Frame) bool {
	if !n.modeChanging {
		n.logger.Debug("received SNN but not in transition")
		return false
	}
	n.acceptNodeNumber(frame.NodeNumber())
	return true
}

func (n *Node) handleQNN() bool {
	nn := n.store.NodeNumber()
	if nn == 0 {
		return false
	}
	n.sendFrame(NewFrame(OpcPNN, byte(nn>>8), byte(nn), n.params[ParamManufacturer], n.params[ParamModuleID],
		n.params[ParamFlags]), DefaultPriority)
	return true
}

func (n *Node) handleRQNPN(frame Frame) bool {
	index := frame.Data[3]
	value, ok := n.params.Get(index)
	if !ok {
		n.sendCMDERR(CmdErrInvalidParamIndex)
		return true
	}
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcPARAN, byte(nn>>8), byte(nn), index, value), DefaultPriority)
	return true
}

func (n *Node) handleCANID(frame Frame) bool {
	canID := frame.Data[3]
	if canID < 1 || canID > 99 {
		n.sendCMDERR(CmdErrInvalidEvent)
		return true
	}
	if err := n.store.SetCANID(canID); err != nil {
		n.logger.WithError(err).Warn("failed to store CANID")
		return true
	}
	n.logger.WithField("canid", canID).Info("CANID set")
	return true
}

func (n *Node) handleENUM(frame Frame) bool {
	if frame.CANID() == n.store.CANID() || n.enum.active {
		return false
	}
	n.enum.required = true
	return true
}

func (n *Node) isValidNVIndex(index uint8) bool {
	return index >= 1 && index <= n.store.NumNVs()
}

func (n *Node) handleNVRD(frame Frame) bool {
	index := frame.Data[3]
	if !n.isValidNVIndex(index) {
		n.sendCMDERR(CmdErrInvalidNVIndex)
		return true
	}
	n.sendNVANS(index)
	return true
}

func (n *Node) sendNVANS(index uint8) {
	value, err := n.store.ReadNV(index)
	if err != nil {
		n.logger.WithError(err).WithField("nv", index).Warn("failed to read node variable")
		return
	}
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcNVANS, byte(nn>>8), byte(nn), index, value), DefaultPriority)
}

func (n *Node) handleNVSET(frame Frame, readBack bool) bool {
	index := frame.Data[3]
	if !n.isValidNVIndex(index) {
		n.sendCMDERR(CmdErrInvalidNVIndex)
		return true
	}
	if err := n.store.WriteNV(index, frame.Data[4]); err != nil {
		n.logger.WithError(err).WithField("nv", index).Warn("failed to write node variable")
		n.sendCMDERR(CmdErrInvalidNVValue)
		return true
	}
	if readBack {
		n.sendNVANS(index)
	} else {
		n.sendWRACK()
	}
	return true
}

// handleEVLRN teaches event. Event key is committed when it is not yet in table and addressed event variable
// is always written.
func (n *Node) handleEVLRN(frame Frame) bool {
	if !n.learn {
		return false
	}
	nn, en := frame.NodeNumber(), frame.EventNumber()
	evIndex, evValue := frame.Data[5], frame.Data[6]
	if evIndex < 1 || evIndex > n.store.NumEVs() {
		n.sendCMDERR(CmdErrInvalidEVIndex)
		return true
	}

	logger := n.logger.WithFields(logrus.Fields{"event_nn": nn, "event_en": en, "ev": evIndex})
	index, ok := n.store.FindEvent(nn, en)
	if !ok {
		index, ok = n.store.FindFreeSlot()
		if !ok {
			n.sendCMDERR(CmdErrTooManyEvents)
			return true
		}
		if err := n.store.WriteEvent(index, nn, en); err != nil {
			logger.WithError(err).Warn("failed to store event")
			return true
		}
	}
	if err := n.store.WriteEV(index, evIndex, evValue); err != nil {
		logger.WithError(err).Warn("failed to store event variable")
		n.sendCMDERR(CmdErrInvalidEVValue)
		return true
	}
	if err := n.store.UpdateIndexEntry(index); err != nil {
		logger.WithError(err).Warn("failed to update event index")
	}
	logger.WithField("index", index).Debug("event taught")
	n.sendWRACK()
	return true
}

func (n *Node) handleEVULN(frame Frame) bool {
	if !n.learn {
		return false
	}
	index, ok := n.store.FindEvent(frame.NodeNumber(), frame.EventNumber())
	if !ok {
		n.sendCMDERR(CmdErrInvalidEvent)
		return true
	}
	if err := n.store.ClearEvent(index); err != nil {
		n.logger.WithError(err).WithField("index", index).Warn("failed to clear event")
		return true
	}
	if err := n.store.UpdateIndexEntry(index); err != nil {
		n.logger.WithError(err).WithField("index", index).Warn("failed to update event index")
	}
	n.sendWRACK()
	return true
}

// handleREQEV reads event variable of taught event while in learn mode. Reply is EVANS.
func (n *Node) handleREQEV(frame Frame) bool {
	if !n.learn {
		return false
	}
	index, ok := n.store.FindEvent(frame.NodeNumber(), frame.EventNumber())
	if !ok {
		n.sendCMDERR(CmdErrInvalidEvent)
		return true
	}
	evIndex := frame.Data[5]
	if evIndex < 1 || evIndex > n.store.NumEVs() {
		n.sendCMDERR(CmdErrInvalidEVIndex)
		return true
	}
	value, err := n.store.ReadEV(index, evIndex)
	if err != nil {
		n.logger.WithError(err).WithField("index", index).Warn("failed to read event variable")
		return true
	}
	reply := NewFrame(OpcEVANS, frame.Data[1], frame.Data[2], frame.Data[3], frame.Data[4], evIndex, value)
	n.sendFrame(reply, DefaultPriority)
	return true
}

func (n *Node) handleRQEVN() bool {
	used, _ := n.countFreeSlots()
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcNUMEV, byte(nn>>8), byte(nn), used), DefaultPriority)
	return true
}

func (n *Node) handleNNEVN() bool {
	_, free := n.countFreeSlots()
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcEVNLF, byte(nn>>8), byte(nn), free), DefaultPriority)
	return true
}

// handleNERD queues ENRSP response for every stored event. Responses are sent by outbox with pacing.
func (n *Node) handleNERD() bool {
	for i := 0; i < int(n.store.MaxEvents()); i++ {
		index := uint8(i)
		if !n.store.IsSlotUsed(index) {
			continue
		}
		frame, ok := n.eventResponse(index)
		if !ok {
			continue
		}
		n.enqueueFrame(frame)
	}
	return true
}

func (n *Node) handleNENRD(frame Frame) bool {
	index := frame.Data[3]
	if index >= n.store.MaxEvents() || !n.store.IsSlotUsed(index) {
		n.sendCMDERR(CmdErrInvalidEvent)
		return true
	}
	reply, ok := n.eventResponse(index)
	if !ok {
		return true
	}
	n.sendFrame(reply, DefaultPriority)
	return true
}

func (n *Node) eventResponse(index uint8) (Frame, bool) {
	evNN, evEN, err := n.store.ReadEvent(index)
	if err != nil {
		n.logger.WithError(err).WithField("index", index).Warn("failed to read event")
		return Frame{}, false
	}
	nn := n.store.NodeNumber()
	return NewFrame(OpcENRSP, byte(nn>>8), byte(nn), byte(evNN>>8), byte(evNN), byte(evEN>>8), byte(evEN), index), true
}

func (n *Node) handleREVAL(frame Frame) bool {
	index, evIndex := frame.Data[3], frame.Data[4]
	if index >= n.store.MaxEvents() || !n.store.IsSlotUsed(index) {
		n.sendCMDERR(CmdErrNoEV)
		return true
	}
	if evIndex < 1 || evIndex > n.store.NumEVs() {
		n.sendCMDERR(CmdErrInvalidEVIndex)
		return true
	}
	value, err := n.store.ReadEV(index, evIndex)
	if err != nil {
		n.logger.WithError(err).WithField("index", index).Warn("failed to read event variable")
		return true
	}
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcNEVAL, byte(nn>>8), byte(nn), index, evIndex, value), DefaultPriority)
	return true
}

func (n *Node) handleNNCLR() bool {
	if !n.learn {
		n.sendCMDERR(CmdErrNotInLearnMode)
		return true
	}
	if err := n.store.ClearAllEvents(); err != nil {
		n.logger.WithError(err).Warn("failed to clear events")
		return true
	}
	if err := n.store.RebuildIndex(); err != nil {
		n.logger.WithError(err).Warn("failed to rebuild event index")
	}
	n.logger.Info("all events cleared")
	n.sendWRACK()
	return true
}

// handleAREQ passes node state request to application with event index 0.
func (n *Node) handleAREQ(frame Frame) bool {
	if n.eventHandler == nil && n.eventHandlerEx == nil {
		return false
	}
	if n.eventHandler != nil {
		n.eventHandler(0, frame)
	}
	if n.eventHandlerEx != nil {
		n.eventHandlerEx(0, frame, false, 0)
	}
	return true
}

func (n *Node) handleMODE(frame Frame) bool {
	switch frame.Data[3] {
	case modeLearn:
		n.setLearn(true)
	case modeNormal:
		if n.learn {
			n.setLearn(false)
		}
		n.heartbeat = true
	case modeNoHeartbeat:
		n.heartbeat = false
	default:
		n.sendGRSP(OpcMODE, ServiceMNS, CmdErrInvalidCommand)
		return true
	}
	n.sendGRSP(OpcMODE, ServiceMNS, GRSPOk)
	return true
}

func (n *Node) handleRDGN(frame Frame) bool {
	svc, code := frame.Data[3], frame.Data[4]
	if int(svc) > len(services) {
		n.sendGRSP(OpcRDGN, svc, GRSPInvalidService)
		return true
	}

	var value uint16
	uptime := uint32(n.now().Sub(n.started).Seconds())
	switch code {
	case diagUptimeHigh:
		value = uint16(uptime >> 16)
	case diagUptimeLow:
		value = uint16(uptime)
	case diagNodeNumberChanges:
		value = uint16(n.counters.NodeNumberChanges)
	case diagActioned:
		value = uint16(n.counters.Actioned)
	default:
		n.sendGRSP(OpcRDGN, svc, GRSPInvalidDiagnostic)
		return true
	}
	nn := n.store.NodeNumber()
	n.sendFrame(NewFrame(OpcDGN, byte(nn>>8), byte(nn), svc, code, byte(value>>8), byte(value)), DefaultPriority)
	return true
}

// handleRQSD answers service discovery. Index 0 lists all services, other indexes describe single service.
func (n *Node) handleRQSD(frame Frame) bool {
	nn := n.store.NodeNumber()
	index := frame.Data[3]
	if index == 0 {
		n.enqueueFrame(NewFrame(OpcSD, byte(nn>>8), byte(nn), 0, 0, uint8(len(services))))
		for i, s := range services {
			n.enqueueFrame(NewFrame(OpcSD, byte(nn>>8), byte(nn), uint8(i+1), s.id, s.version))
		}
		return true
	}
	if int(index) > len(services) {
		n.sendGRSP(OpcRQSD, index, GRSPInvalidService)
		return true
	}
	s := services[index-1]
	n.sendFrame(NewFrame(OpcSD, byte(nn>>8), byte(nn), index, s.id, s.version), DefaultPriority)
	return true
}
