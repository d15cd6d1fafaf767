package mlcb

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/snksoft/crc"
)

const (
	// DefaultFragmentDelay is minimum delay between two sent fragments of the same stream.
	DefaultFragmentDelay = 20 * time.Millisecond
	// DefaultReceiveTimeout is how long receive context waits for next fragment before it is abandoned.
	DefaultReceiveTimeout = 5 * time.Second

	// MaxMultipartLength is largest payload that fits into 16 bit length field of the header fragment.
	MaxMultipartLength = 0xFFFF

	// fragment layout: opcode, stream id, sequence, up to 5 bytes of payload
	fragmentHeaderLength  = 3
	fragmentPayloadLength = MaxFrameLength - fragmentHeaderLength
)

var (
	// ErrSendInProgress is returned when single stream sender is still sending previous payload.
	ErrSendInProgress = errors.New("multipart send already in progress")
	// ErrNoFreeContext is returned when all send contexts are in use.
	ErrNoFreeContext = errors.New("no free multipart send context")
	// ErrPayloadTooLong is returned when payload does not fit into multipart message.
	ErrPayloadTooLong = errors.New("multipart payload too long")
)

// MultipartStatus is result of multipart message reception reported to MultipartHandler.
type MultipartStatus uint8

const (
	// MultipartIncomplete is status of stream that is still being received. Never reported to handler.
	MultipartIncomplete MultipartStatus = iota
	// MultipartComplete means that whole payload was received.
	MultipartComplete
	// MultipartSequenceError means that fragment with unexpected sequence number was received and stream was aborted.
	MultipartSequenceError
	// MultipartTimeout means that no fragment was received in time and stream was abandoned.
	MultipartTimeout
	// MultipartCRCError means that checksum of received payload did not match checksum in header fragment.
	MultipartCRCError
	// MultipartTruncated means that payload was longer than receive buffer and only part of it was kept.
	MultipartTruncated
)

func (s MultipartStatus) String() string {
	switch s {
	case MultipartIncomplete:
		return "incomplete"
	case MultipartComplete:
		return "complete"
	case MultipartSequenceError:
		return "sequence error"
	case MultipartTimeout:
		return "timeout"
	case MultipartCRCError:
		return "crc error"
	case MultipartTruncated:
		return "truncated"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MultipartHandler is called when multipart stream reception ends. Data is valid only during the call.
type MultipartHandler func(data []byte, streamID uint8, status MultipartStatus)

// MultipartConfig is configuration for multipart transports. Zero values mean defaults.
type MultipartConfig struct {
	// FragmentDelay defaults to DefaultFragmentDelay
	FragmentDelay time.Duration
	// ReceiveTimeout defaults to DefaultReceiveTimeout
	ReceiveTimeout time.Duration
	// DisableCRC turns off checksum calculation for sent and validation for received streams.
	DisableCRC bool

	// ReceiveContexts is number of concurrently received streams. Only used by MultipartPool, defaults to 4.
	ReceiveContexts int
	// SendContexts is number of concurrently sent streams. Only used by MultipartPool, defaults to 4.
	SendContexts int
	// BufferSize is size of receive buffer for each receive context. Only used by MultipartPool, defaults to 64.
	BufferSize int

	Logger logrus.FieldLogger
}

type subscription struct {
	streamIDs []uint8
	buffer    []byte
	handler   MultipartHandler
}

func (s *subscription) has(streamID uint8) bool {
	for _, id := range s.streamIDs {
		if id == streamID {
			return true
		}
	}
	return false
}

// receiveContext is state of single stream being received.
type receiveContext struct {
	active   bool
	streamID uint8
	canID    uint8
	// arena is buffer owned by context. Used when subscription does not provide its own buffer.
	arena   []byte
	buffer  []byte
	handler MultipartHandler

	length       int
	received     int
	expectedCRC  uint16
	crc          uint64
	sequence     uint8
	lastFragment time.Time
}

func (c *receiveContext) open(frame Frame, sub *subscription, table *crc.Table, now time.Time) {
	c.active = true
	c.streamID = frame.Data[1]
	c.canID = frame.CANID()
	c.buffer = sub.buffer
	if c.buffer == nil {
		c.buffer = c.arena
	}
	c.handler = sub.handler

	c.length = int(frame.Data[3])<<8 | int(frame.Data[4])
	c.expectedCRC = uint16(frame.Data[5])<<8 | uint16(frame.Data[6])
	c.received = 0
	c.crc = table.InitCrc()
	c.sequence = 1
	c.lastFragment = now
}

// append adds continuation fragment payload to context.
func (c *receiveContext) append(frame Frame, table *crc.Table, now time.Time) MultipartStatus {
	if frame.Data[2] != c.sequence {
		return MultipartSequenceError
	}
	c.sequence++ // wraps to 0 after 255
	c.lastFragment = now

	payload := frame.Payload()[fragmentHeaderLength:]
	if remaining := c.length - c.received; len(payload) > remaining {
		payload = payload[:remaining]
	}
	c.crc = table.UpdateCrc(c.crc, payload)
	if c.received < len(c.buffer) {
		copy(c.buffer[c.received:], payload)
	}
	c.received += len(payload)
	return MultipartIncomplete
}

func (c *receiveContext) isDone() bool {
	return c.received >= c.length
}

// result returns final status of completely received stream.
func (c *receiveContext) result(validateCRC bool, table *crc.Table) MultipartStatus {
	if validateCRC && table.CRC16(c.crc) != c.expectedCRC {
		return MultipartCRCError
	}
	if c.length > len(c.buffer) {
		return MultipartTruncated
	}
	return MultipartComplete
}

func (c *receiveContext) data() []byte {
	l := c.received
	if l > len(c.buffer) {
		l = len(c.buffer)
	}
	return c.buffer[:l]
}

// sendContext is state of single stream being sent.
type sendContext struct {
	active       bool
	streamID     uint8
	priority     uint8
	data         []byte
	crc          uint16
	headerSent   bool
	sent         int
	sequence     uint8
	lastFragment time.Time
}

// nextFragment creates next fragment to be sent. Sequence 0 is header fragment with total length and checksum.
func (c *sendContext) nextFragment() Frame {
	if !c.headerSent {
		l := uint16(len(c.data))
		return NewFrame(OpcDTXC, c.streamID, 0, byte(l>>8), byte(l), byte(c.crc>>8), byte(c.crc), 0)
	}
	end := c.sent + fragmentPayloadLength
	if end > len(c.data) {
		end = len(c.data)
	}
	return NewFrame(OpcDTXC, append([]byte{c.streamID, c.sequence}, c.data[c.sent:end]...)...)
}

// advance marks fragment created by nextFragment as sent. Returns true when stream is complete.
func (c *sendContext) advance(fragment Frame, now time.Time) bool {
	c.lastFragment = now
	c.sequence++ // wraps to 0 after 255
	if !c.headerSent {
		c.headerSent = true
	} else {
		c.sent += int(fragment.Length) - fragmentHeaderLength
	}
	return c.sent >= len(c.data)
}

// multipartTransport is shared implementation of single stream and pooled multipart transports. Receive and send
// contexts are preallocated and never grow.
type multipartTransport struct {
	sender FrameSender
	logger logrus.FieldLogger
	now    func() time.Time

	delay    time.Duration
	timeout  time.Duration
	useCRC   bool
	crcTable *crc.Table

	subscriptions []subscription
	receivers     []receiveContext
	senders       []sendContext
}

func newMultipartTransport(sender FrameSender, config MultipartConfig, receivers int, senders int, bufferSize int) multipartTransport {
	t := multipartTransport{
		sender:   sender,
		logger:   config.Logger,
		now:      time.Now,
		delay:    config.FragmentDelay,
		timeout:  config.ReceiveTimeout,
		useCRC:   !config.DisableCRC,
		crcTable: crc.NewTable(crc.XMODEM),

		receivers: make([]receiveContext, receivers),
		senders:   make([]sendContext, senders),
	}
	if t.logger == nil {
		t.logger = logrus.StandardLogger()
	}
	if t.delay <= 0 {
		t.delay = DefaultFragmentDelay
	}
	if t.timeout <= 0 {
		t.timeout = DefaultReceiveTimeout
	}
	for i := range t.receivers {
		if bufferSize > 0 {
			t.receivers[i].arena = make([]byte, bufferSize)
		}
	}
	return t
}

// SetFragmentDelay sets minimum delay between sent fragments.
func (t *multipartTransport) SetFragmentDelay(delay time.Duration) {
	t.delay = delay
}

// SetReceiveTimeout sets how long receiver waits for next fragment.
func (t *multipartTransport) SetReceiveTimeout(timeout time.Duration) {
	t.timeout = timeout
}

// UseCRC enables or disables checksum for sent and received streams.
func (t *multipartTransport) UseCRC(useCRC bool) {
	t.useCRC = useCRC
}

// IsSending returns true when at least one stream is being sent.
func (t *multipartTransport) IsSending() bool {
	return t.ActiveSends() > 0
}

// ActiveSends returns number of streams being sent.
func (t *multipartTransport) ActiveSends() int {
	count := 0
	for i := range t.senders {
		if t.senders[i].active {
			count++
		}
	}
	return count
}

// ActiveReceives returns number of streams being received.
func (t *multipartTransport) ActiveReceives() int {
	count := 0
	for i := range t.receivers {
		if t.receivers[i].active {
			count++
		}
	}
	return count
}

func (t *multipartTransport) subscribe(streamIDs []uint8, buffer []byte, handler MultipartHandler) {
	t.subscriptions = append(t.subscriptions, subscription{
		streamIDs: append([]uint8{}, streamIDs...),
		buffer:    buffer,
		handler:   handler,
	})
}

func (t *multipartTransport) send(payload []byte, streamID uint8, priority uint8) error {
	if len(payload) > MaxMultipartLength {
		return ErrPayloadTooLong
	}
	var ctx *sendContext
	for i := range t.senders {
		if !t.senders[i].active {
			ctx = &t.senders[i]
			break
		}
	}
	if ctx == nil {
		return ErrNoFreeContext
	}

	ctx.active = true
	ctx.streamID = streamID
	ctx.priority = priority
	ctx.data = append(ctx.data[:0], payload...)
	ctx.headerSent = false
	ctx.sent = 0
	ctx.sequence = 0
	ctx.lastFragment = time.Time{}
	ctx.crc = 0
	if t.useCRC {
		ctx.crc = t.crcTable.CRC16(t.crcTable.UpdateCrc(t.crcTable.InitCrc(), payload))
	}
	t.logger.WithFields(logrus.Fields{"stream": streamID, "length": len(payload)}).Debug("multipart send started")
	return nil
}

// HandleFragment processes received DTXC frame.
func (t *multipartTransport) HandleFragment(frame Frame) {
	if frame.Length < fragmentHeaderLength || frame.OpCode() != OpcDTXC {
		return
	}
	now := t.now()
	streamID, sequence := frame.Data[1], frame.Data[2]

	for i := range t.receivers {
		ctx := &t.receivers[i]
		if !ctx.active || ctx.streamID != streamID {
			continue
		}
		if ctx.canID != frame.CANID() {
			return // same stream id used by other node
		}
		if status := ctx.append(frame, t.crcTable, now); status == MultipartSequenceError {
			t.logger.WithFields(logrus.Fields{"stream": streamID, "sequence": sequence}).Debug("multipart sequence error")
			t.finish(ctx, MultipartSequenceError)
			return
		}
		if ctx.isDone() {
			t.finish(ctx, ctx.result(t.useCRC, t.crcTable))
		}
		return
	}

	// new stream starts with header fragment
	if sequence != 0 || frame.Length < MaxFrameLength {
		return
	}
	var sub *subscription
	for i := range t.subscriptions {
		if t.subscriptions[i].has(streamID) {
			sub = &t.subscriptions[i]
			break
		}
	}
	if sub == nil {
		return
	}
	for i := range t.receivers {
		ctx := &t.receivers[i]
		if ctx.active {
			continue
		}
		ctx.open(frame, sub, t.crcTable, now)
		t.logger.WithFields(logrus.Fields{"stream": streamID, "length": ctx.length}).Debug("multipart receive started")
		if ctx.isDone() {
			t.finish(ctx, ctx.result(t.useCRC, t.crcTable))
		}
		return
	}
	t.logger.WithField("stream", streamID).Debug("no free multipart receive context")
}

func (t *multipartTransport) finish(ctx *receiveContext, status MultipartStatus) {
	ctx.active = false
	if ctx.handler != nil {
		ctx.handler(ctx.data(), ctx.streamID, status)
	}
}

// Process checks receive timeouts and sends next fragment of every active send stream when fragment delay has passed.
func (t *multipartTransport) Process() {
	now := t.now()
	for i := range t.receivers {
		ctx := &t.receivers[i]
		if ctx.active && now.Sub(ctx.lastFragment) > t.timeout {
			t.logger.WithField("stream", ctx.streamID).Debug("multipart receive timeout")
			t.finish(ctx, MultipartTimeout)
		}
	}

	for i := range t.senders {
		ctx := &t.senders[i]
		if !ctx.active {
			continue
		}
		if !ctx.lastFragment.IsZero() && now.Sub(ctx.lastFragment) < t.delay {
			continue
		}
		fragment := ctx.nextFragment()
		if err := t.sender.SendFrame(fragment, ctx.priority); err != nil {
			t.logger.WithError(err).WithField("stream", ctx.streamID).Warn("failed to send multipart fragment")
			continue
		}
		if ctx.advance(fragment, now) {
			ctx.active = false
			t.logger.WithField("stream", ctx.streamID).Debug("multipart send done")
		}
	}
}

// MultipartMessage is multipart transport that receives and sends single stream at the time.
type MultipartMessage struct {
	multipartTransport
}

// NewMultipartMessage creates single stream multipart transport sending fragments with given sender.
func NewMultipartMessage(sender FrameSender, config MultipartConfig) *MultipartMessage {
	return &MultipartMessage{
		multipartTransport: newMultipartTransport(sender, config, 1, 1, 0),
	}
}

// Subscribe registers handler for streams with given ids. Received payload is stored into buffer. Payload longer
// than buffer is reported as truncated.
func (m *MultipartMessage) Subscribe(streamIDs []uint8, buffer []byte, handler MultipartHandler) {
	m.subscriptions = m.subscriptions[:0]
	m.subscribe(streamIDs, buffer, handler)
}

// Send starts sending payload as stream with given id. Fragments are sent by Process calls.
func (m *MultipartMessage) Send(payload []byte, streamID uint8, priority uint8) error {
	if m.IsSending() {
		return ErrSendInProgress
	}
	return m.send(payload, streamID, priority)
}
