package gridconnect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aldas/go-mlcb"
	"github.com/sirupsen/logrus"
)

const (
	defaultReceiveQueueSize = 256
	// maxFrameBytes is longest possible frame `:X1FFFFFFFN0102030405060708;`
	maxFrameBytes = 28
)

// Config is configuration for GridConnect device.
type Config struct {
	// ReceiveQueueSize is number of received frames buffered until node reads them.
	ReceiveQueueSize int
	// DebugLogRawMessageBytes instructs device to log all written and read raw bytes
	DebugLogRawMessageBytes bool

	Logger logrus.FieldLogger
}

// Device is GridConnect serial adapter transport for mlcb.Node. Frames are read by background goroutine so Available
// and ReadFrame never block.
type Device struct {
	device  io.ReadWriter
	timeNow func() time.Time
	config  Config
	logger  logrus.FieldLogger

	readBuffer []byte
	readIndex  int

	received chan mlcb.Frame
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	writeMu sync.Mutex
	mu      sync.Mutex
	readErr error
	dropped uint64
}

// NewDevice creates new GridConnect device over serial port (or any other io.ReadWriter).
func NewDevice(device io.ReadWriter, config Config) *Device {
	if config.ReceiveQueueSize <= 0 {
		config.ReceiveQueueSize = defaultReceiveQueueSize
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Device{
		device:     device,
		timeNow:    time.Now,
		config:     config,
		logger:     logger,
		readBuffer: make([]byte, 0, 2*maxFrameBytes),
		received:   make(chan mlcb.Frame, config.ReceiveQueueSize),
	}
}

// Initialize starts receiving frames.
func (d *Device) Initialize() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.readLoop(ctx)
	return nil
}

func (d *Device) readLoop(ctx context.Context) {
	defer d.wg.Done()
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := d.device.Read(buf) // serial port read timeout limits how long this blocks
		if n > 0 {
			d.consume(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && ctx.Err() == nil {
				time.Sleep(10 * time.Millisecond) // nothing to read
				continue
			}
			if ctx.Err() != nil {
				return
			}
			d.logger.WithError(err).Error("gridconnect read failed")
			d.mu.Lock()
			d.readErr = err
			d.mu.Unlock()
			return
		}
	}
}

// consume appends read bytes to read buffer and extracts all complete frames from it.
func (d *Device) consume(b []byte) {
	d.readBuffer = append(d.readBuffer, b...)
	for {
		start := bytes.IndexByte(d.readBuffer, ':')
		if start == -1 {
			d.readBuffer = d.readBuffer[:0]
			return
		}
		end := bytes.IndexByte(d.readBuffer[start:], ';')
		if end == -1 {
			if len(d.readBuffer)-start > maxFrameBytes { // garbage, no frame end in sight
				d.readBuffer = d.readBuffer[:0]
				return
			}
			d.readBuffer = append(d.readBuffer[:0], d.readBuffer[start:]...)
			return
		}
		raw := d.readBuffer[start : start+end+1]
		if d.config.DebugLogRawMessageBytes {
			d.logger.Debugf("read GridConnect frame: `%v`", printable(raw))
		}
		frame, err := parseFrame(raw, d.timeNow())
		d.readBuffer = append(d.readBuffer[:0], d.readBuffer[start+end+1:]...)
		if err != nil {
			d.logger.WithError(err).Debug("skipping invalid frame")
			continue
		}
		select {
		case d.received <- frame:
		default:
			d.mu.Lock()
			d.dropped++
			d.mu.Unlock()
		}
	}
}

// Available returns true when received frame is waiting.
func (d *Device) Available() bool {
	return len(d.received) > 0
}

// ReadFrame returns next received frame or mlcb.ErrNoFrame when none is waiting.
func (d *Device) ReadFrame() (mlcb.Frame, error) {
	select {
	case f := <-d.received:
		return f, nil
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readErr != nil {
		return mlcb.Frame{}, d.readErr
	}
	return mlcb.Frame{}, mlcb.ErrNoFrame
}

// WriteFrame writes frame to adapter.
func (d *Device) WriteFrame(frame mlcb.Frame) error {
	raw := encodeFrame(frame)
	if d.config.DebugLogRawMessageBytes {
		d.logger.Debugf("writing GridConnect frame: `%v`", printable(raw))
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := d.device.Write(raw); err != nil {
		return fmt.Errorf("gridconnect write failed: %w", err)
	}
	return nil
}

// Dropped returns number of received frames dropped due full receive queue.
func (d *Device) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops receiving and closes underlying device when it implements io.Closer.
func (d *Device) Close() error {
	var err error
	if c, ok := d.device.(io.Closer); ok {
		err = c.Close()
	}
	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
	}
	return err
}

// printable replaces control characters in raw adapter bytes with escape sequences so they are visible in logs.
func printable(raw []byte) string {
	sb := strings.Builder{}
	for _, c := range raw {
		switch c {
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if c < 0x20 || c == 0x7f {
				sb.WriteString(fmt.Sprintf(`\x%02x`, c))
				continue
			}
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
