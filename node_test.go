package mlcb

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/aldas/go-mlcb/store"
	test_test "github.com/aldas/go-mlcb/test"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

const (
	testNodeNumber uint16 = 300 // 0x012C
	testCANID      uint8  = 5
	toolCANID      uint8  = 50
)

// testRig is node connected to loopback bus with configuration tool endpoint on the other side.
type testRig struct {
	node  *Node
	store *store.Memory
	tool  *LoopbackEndpoint
	clock *test_test.Clock
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testParams(t *testing.T) Params {
	params, err := NewParams(ParamsConfig{
		Manufacturer: ManufacturerDev,
		ModuleID:     ModuleTypeMLCB,
		Version:      "1.2.0",
		MaxEvents:    4,
		EVsPerEvent:  2,
		NVs:          8,
		Flags:        FlagConsumer | FlagProducer,
	})
	assert.NoError(t, err)
	return params
}

func newTestRig(t *testing.T, isFLiM bool) *testRig {
	mem := store.NewMemory(store.Layout{MaxEvents: 4, NumEVs: 2, NumNVs: 8})
	if isFLiM {
		assert.NoError(t, mem.SetNodeNumber(testNodeNumber))
		assert.NoError(t, mem.SetCANID(testCANID))
		assert.NoError(t, mem.SetFLiM(true))
	}

	bus := NewLoopbackBus()
	t.Cleanup(func() { _ = bus.Close() })
	tool := bus.Open()

	node, err := NewNode(bus.Open(), mem, Config{
		Params:           testParams(t),
		Name:             "TEST",
		DisableHeartbeat: true,
		Logger:           newTestLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	clock := test_test.NewClock(test_test.UTCTime(1700000000))
	node.now = clock.Now
	node.started = clock.Now()
	node.heartbeatLast = node.started

	return &testRig{node: node, store: mem, tool: tool, clock: clock}
}

// send writes frames to bus as configuration tool.
func (r *testRig) send(frames ...Frame) {
	for _, f := range frames {
		f.ID = Header{Priority: DefaultPriority, CANID: toolCANID}.Uint32()
		_ = r.tool.WriteFrame(f)
	}
}

func (r *testRig) process(times int) {
	for i := 0; i < times; i++ {
		r.node.Process()
	}
}

// frames returns all frames node has sent since last call.
func (r *testRig) frames() []Frame {
	var result []Frame
	for {
		f, err := r.tool.ReadFrame()
		if err != nil {
			return result
		}
		result = append(result, f)
	}
}

// received returns payloads of all frames node has sent since last call.
func (r *testRig) received() [][]byte {
	var result [][]byte
	for _, f := range r.frames() {
		result = append(result, append([]byte{}, f.Payload()...))
	}
	return result
}

func TestNewNode(t *testing.T) {
	var testCases = []struct {
		name       string
		transport  Transport
		store      Store
		config     Config
		expectErr  string
		expectName string
	}{
		{
			name:       "ok, name is padded with spaces",
			transport:  NewLoopbackBus().Open(),
			store:      store.NewMemory(store.Layout{MaxEvents: 1}),
			config:     Config{Name: "SERVO"},
			expectName: "SERVO  ",
		},
		{
			name:      "nok, missing transport",
			store:     store.NewMemory(store.Layout{MaxEvents: 1}),
			expectErr: "node transport can not be nil",
		},
		{
			name:      "nok, missing store",
			transport: NewLoopbackBus().Open(),
			expectErr: "node store can not be nil",
		},
		{
			name:      "nok, name too long",
			transport: NewLoopbackBus().Open(),
			store:     store.NewMemory(store.Layout{MaxEvents: 1}),
			config:    Config{Name: "TOOLONGNAME"},
			expectErr: "module name can be up to 7 characters",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			node, err := NewNode(tc.transport, tc.store, tc.config)
			if tc.expectErr != "" {
				assert.EqualError(t, err, tc.expectErr)
				assert.Nil(t, node)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expectName, string(node.name[:]))
			assert.Equal(t, DefaultMessagesPerPoll, node.messagesPerPoll)
			assert.Equal(t, DefaultHeartbeatInterval, node.heartbeatInterval)
		})
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "SLiM", ModeSLiM.String())
	assert.Equal(t, "FLiM", ModeFLiM.String())
	assert.Equal(t, "changing", ModeChanging.String())
	assert.Equal(t, "unknown(9)", Mode(9).String())
}

func TestNode_nodeNumberNegotiation(t *testing.T) {
	rig := newTestRig(t, false)
	assert.Equal(t, ModeSLiM, rig.node.Mode())

	rig.node.InitFLiM()
	assert.Equal(t, ModeChanging, rig.node.Mode())
	assert.Equal(t, [][]byte{{0x50, 0x00, 0x00}}, rig.received())

	rig.send(NewFrame(OpcRQNP), NewFrame(OpcRQMN))
	rig.process(1)
	assert.Equal(t, [][]byte{
		{0xEF, ManufacturerDev, 'c', ModuleTypeMLCB, 4, 2, 8, 1},
		{0xE2, 'T', 'E', 'S', 'T', ' ', ' ', ' '},
	}, rig.received())

	rig.send(NewFrame(OpcSNN, 0x01, 0x2C))
	rig.process(1)
	assert.Equal(t, [][]byte{{0x52, 0x01, 0x2C}}, rig.received())
	assert.Equal(t, ModeFLiM, rig.node.Mode())
	assert.Equal(t, testNodeNumber, rig.store.NodeNumber())
	assert.True(t, rig.store.FLiM())
	assert.Equal(t, uint32(1), rig.node.Counters().NodeNumberChanges)
	p := rig.node.Params()
	assert.Equal(t, FlagFLiM, p[ParamFlags]&FlagFLiM)

	// node has no CANID yet and starts enumeration on next poll
	rig.process(1)
	frames := rig.frames()
	if assert.Len(t, frames, 1) {
		assert.True(t, frames[0].IsProbe())
	}
	assert.True(t, rig.node.IsEnumerating())

	rig.clock.Advance(enumerationWindow)
	rig.process(1)
	assert.False(t, rig.node.IsEnumerating())
	assert.Equal(t, uint8(1), rig.node.CANID())

	frames = rig.frames()
	if assert.Len(t, frames, 1) {
		assert.Equal(t, []byte{0x52, 0x01, 0x2C}, frames[0].Payload())
		assert.Equal(t, uint8(1), frames[0].CANID())
	}
}

func TestNode_snnIgnoredWhenNotChanging(t *testing.T) {
	rig := newTestRig(t, false)

	rig.send(NewFrame(OpcSNN, 0x01, 0x2C), NewFrame(OpcRQNP))
	rig.process(1)

	assert.Nil(t, rig.received())
	assert.Equal(t, uint16(0), rig.store.NodeNumber())
	assert.Equal(t, ModeSLiM, rig.node.Mode())
}

func TestNode_negotiationTimeout(t *testing.T) {
	var testCases = []struct {
		name       string
		isFLiM     bool
		expect     [][]byte
		expectMode Mode
	}{
		{
			name:       "ok, SLiM node returns to SLiM without message",
			isFLiM:     false,
			expect:     nil,
			expectMode: ModeSLiM,
		},
		{
			name:       "ok, FLiM node restates its node number",
			isFLiM:     true,
			expect:     [][]byte{{0x52, 0x01, 0x2C}},
			expectMode: ModeFLiM,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig(t, tc.isFLiM)
			rig.node.InitFLiM()
			rig.received() // RQNN

			rig.clock.Advance(negotiationTimeout - time.Millisecond)
			rig.process(1)
			assert.Equal(t, ModeChanging, rig.node.Mode())
			assert.Nil(t, rig.received())

			rig.clock.Advance(time.Millisecond)
			rig.process(1)
			assert.Equal(t, tc.expectMode, rig.node.Mode())
			assert.Equal(t, tc.expect, rig.received())
		})
	}
}

func TestNode_RevertSLiM(t *testing.T) {
	rig := newTestRig(t, true)
	rig.send(NewFrame(OpcNNLRN, 0x01, 0x2C))
	rig.process(1)
	assert.True(t, rig.node.IsLearning())

	rig.node.RevertSLiM()

	assert.Equal(t, [][]byte{{0x51, 0x01, 0x2C}}, rig.received())
	assert.Equal(t, ModeSLiM, rig.node.Mode())
	assert.False(t, rig.node.IsLearning())
	assert.Equal(t, uint16(0), rig.node.NodeNumber())
	assert.Equal(t, uint8(0), rig.node.CANID())
	p := rig.node.Params()
	assert.Equal(t, uint8(0), p[ParamFlags]&(FlagFLiM|FlagLearn))
}

func TestNode_answersProbe(t *testing.T) {
	rig := newTestRig(t, true)

	rig.send(Frame{RTR: true})
	rig.process(1)

	frames := rig.frames()
	if assert.Len(t, frames, 1) {
		assert.Equal(t, uint8(0), frames[0].Length)
		assert.False(t, frames[0].RTR)
		assert.Equal(t, testCANID, frames[0].CANID())
	}
}

func TestNode_enumerationSelectsLowestFreeCANID(t *testing.T) {
	rig := newTestRig(t, true)

	rig.node.StartEnumeration()
	rig.process(1)
	rig.frames() // probe

	// probe from other node is not answered while enumerating
	rig.send(Frame{RTR: true})
	for _, canID := range []uint8{1, 2, 3} {
		_ = rig.tool.WriteFrame(Frame{ID: Header{Priority: DefaultPriority, CANID: canID}.Uint32()})
	}
	rig.process(2)
	assert.Nil(t, rig.received())

	rig.clock.Advance(enumerationWindow)
	rig.process(1)

	assert.Equal(t, uint8(4), rig.node.CANID())
	assert.Equal(t, [][]byte{{0x52, 0x01, 0x2C}}, rig.received())
}

func TestNode_collisionStartsEnumeration(t *testing.T) {
	rig := newTestRig(t, true)

	f := NewFrame(OpcACON, 0x00, 0x01, 0x00, 0x01)
	f.ID = Header{Priority: DefaultPriority, CANID: testCANID}.Uint32()
	_ = rig.tool.WriteFrame(f)
	rig.process(1)
	assert.Nil(t, rig.received())

	rig.process(1)
	assert.True(t, rig.node.IsEnumerating())
	frames := rig.frames()
	if assert.Len(t, frames, 1) {
		assert.True(t, frames[0].IsProbe())
	}
}

func TestNode_heartbeat(t *testing.T) {
	rig := newTestRig(t, true)
	rig.node.heartbeat = true

	rig.process(1)
	assert.Nil(t, rig.received())

	rig.clock.Advance(DefaultHeartbeatInterval)
	rig.process(1)
	assert.Equal(t, [][]byte{{0xAB, 0x01, 0x2C, 0, 0, 0}}, rig.received())

	rig.clock.Advance(DefaultHeartbeatInterval)
	rig.process(1)
	assert.Equal(t, [][]byte{{0xAB, 0x01, 0x2C, 1, 0, 0}}, rig.received())

	// MODE 7 turns heartbeat off
	rig.send(NewFrame(OpcMODE, 0x01, 0x2C, 7))
	rig.process(1)
	assert.Equal(t, [][]byte{{0xAF, 0x01, 0x2C, 0x76, 1, 0}}, rig.received())

	rig.clock.Advance(DefaultHeartbeatInterval)
	rig.process(1)
	assert.Nil(t, rig.received())
}

func TestNode_messagesPerPoll(t *testing.T) {
	rig := newTestRig(t, true)

	for i := 0; i < 5; i++ {
		rig.send(NewFrame(OpcQNN))
	}
	rig.process(1)
	assert.Len(t, rig.received(), DefaultMessagesPerPoll)
	assert.Equal(t, uint32(DefaultMessagesPerPoll), rig.node.Counters().Received)

	rig.process(1)
	assert.Len(t, rig.received(), 2)
	assert.Equal(t, uint32(5), rig.node.Counters().Actioned)
	assert.Equal(t, uint32(5), rig.node.Counters().Sent)
}

func TestNode_frameHandler(t *testing.T) {
	rig := newTestRig(t, true)
	var seen []OpCode
	rig.node.SetFrameHandler(func(frame Frame) {
		seen = append(seen, frame.OpCode())
	}, OpcHEARTB, OpcQNN)

	rig.send(NewFrame(OpcHEARTB, 0x00, 0x10, 1, 0, 0), NewFrame(OpcRQNP), NewFrame(OpcQNN))
	rig.process(1)

	assert.Equal(t, []OpCode{OpcHEARTB, OpcQNN}, seen)
}

func TestNode_Status(t *testing.T) {
	rig := newTestRig(t, true)
	rig.clock.Advance(90 * time.Second)

	status := rig.node.Status()
	assert.Equal(t, "TEST   ", status.Name)
	assert.Equal(t, testNodeNumber, status.NodeNumber)
	assert.Equal(t, testCANID, status.CANID)
	assert.Equal(t, ModeFLiM, status.Mode)
	assert.Equal(t, 90*time.Second, status.Uptime)
	assert.Len(t, status.Params, 21)

	b, err := json.Marshal(status)
	assert.NoError(t, err)
	assert.Contains(t, string(b), `"mode":"FLiM"`)
	assert.Contains(t, string(b), `"nn":300`)
}

type fakeSwitch struct {
	pressed      bool
	changed      bool
	current      time.Duration
	lastDuration time.Duration
}

func (s *fakeSwitch) Run()                                {}
func (s *fakeSwitch) IsPressed() bool                     { return s.pressed }
func (s *fakeSwitch) CurrentStateDuration() time.Duration { return s.current }
func (s *fakeSwitch) LastStateDuration() time.Duration    { return s.lastDuration }
func (s *fakeSwitch) StateChanged() bool {
	changed := s.changed
	s.changed = false
	return changed
}

type fakeIndicator struct {
	calls []string
}

func (i *fakeIndicator) On()    { i.calls = append(i.calls, "on") }
func (i *fakeIndicator) Off()   { i.calls = append(i.calls, "off") }
func (i *fakeIndicator) Blink() { i.calls = append(i.calls, "blink") }
func (i *fakeIndicator) Pulse() { i.calls = append(i.calls, "pulse") }
func (i *fakeIndicator) Run()   {}

func TestNode_switchGestures(t *testing.T) {
	var testCases = []struct {
		name         string
		isFLiM       bool
		released     time.Duration
		expect       [][]byte
		expectMode   Mode
		expectEnum   bool
		expectYellow []string
	}{
		{
			name:         "ok, long press in SLiM requests node number",
			isFLiM:       false,
			released:     9 * time.Second,
			expect:       [][]byte{{0x50, 0x00, 0x00}},
			expectMode:   ModeChanging,
			expectYellow: []string{"off", "blink"},
		},
		{
			name:         "ok, long press in FLiM reverts to SLiM",
			isFLiM:       true,
			released:     9 * time.Second,
			expect:       [][]byte{{0x51, 0x01, 0x2C}},
			expectMode:   ModeSLiM,
			expectYellow: []string{"on", "off"},
		},
		{
			name:         "ok, medium press renegotiates",
			isFLiM:       true,
			released:     1500 * time.Millisecond,
			expect:       [][]byte{{0x50, 0x01, 0x2C}},
			expectMode:   ModeChanging,
			expectYellow: []string{"on", "blink"},
		},
		{
			name:         "ok, short press in FLiM enumerates",
			isFLiM:       true,
			released:     200 * time.Millisecond,
			expect:       [][]byte{{}},
			expectMode:   ModeFLiM,
			expectEnum:   true,
			expectYellow: []string{"on"},
		},
		{
			name:         "ok, short press in SLiM does nothing",
			isFLiM:       false,
			released:     200 * time.Millisecond,
			expectMode:   ModeSLiM,
			expectYellow: []string{"off"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig(t, tc.isFLiM)
			green, yellow := &fakeIndicator{}, &fakeIndicator{}
			rig.node.SetIndicators(green, yellow)
			rig.node.SetSwitch(&fakeSwitch{changed: true, lastDuration: tc.released})

			rig.process(1)

			assert.Equal(t, tc.expect, rig.received())
			assert.Equal(t, tc.expectMode, rig.node.Mode())
			assert.Equal(t, tc.expectEnum, rig.node.IsEnumerating())
			assert.Equal(t, tc.expectYellow, yellow.calls)
		})
	}
}
