package socketcan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aldas/go-mlcb"
	"github.com/sirupsen/logrus"
)

const defaultReceiveQueueSize = 256

// DeviceConfig is configuration for SocketCAN device.
type DeviceConfig struct {
	// InterfaceName is SocketCAN interface name. For example: can0
	InterfaceName string
	// ReceiveQueueSize is number of received frames buffered until node reads them. Frames received when queue is
	// full are dropped.
	ReceiveQueueSize int

	Logger logrus.FieldLogger
}

// Device is SocketCAN transport for mlcb.Node. Frames are read from socket by background goroutine so Available and
// ReadFrame never block.
type Device struct {
	conn   *Socket
	config DeviceConfig
	logger logrus.FieldLogger

	received chan mlcb.Frame
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	readErr error
	dropped uint64
}

// NewDevice creates new SocketCAN device.
func NewDevice(config DeviceConfig) *Device {
	if config.ReceiveQueueSize <= 0 {
		config.ReceiveQueueSize = defaultReceiveQueueSize
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Device{
		config:   config,
		logger:   logger.WithField("if", config.InterfaceName),
		received: make(chan mlcb.Frame, config.ReceiveQueueSize),
	}
}

// Initialize opens socket and starts receiving frames.
func (d *Device) Initialize() error {
	conn, err := OpenSocket(d.config.InterfaceName)
	if err != nil {
		return err
	}
	d.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.readLoop(ctx)
	return nil
}

func (d *Device) readLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.conn.SetReadTimeout(50 * time.Millisecond); err != nil { // max 50ms block time for read per iteration
			d.setReadErr(err)
			return
		}
		frame, err := d.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				continue
			}
			if errors.Is(err, errErrorFrame) {
				d.logger.Debug("received CAN error frame")
				continue
			}
			d.setReadErr(err)
			return
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

func (d *Device) setReadErr(err error) {
	d.logger.WithError(err).Error("socketcan read failed")
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
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

// WriteFrame sends frame to bus.
func (d *Device) WriteFrame(frame mlcb.Frame) error {
	if d.conn == nil {
		return errors.New("device is not initialized")
	}
	return d.conn.SendFrame(frame)
}

// Dropped returns number of received frames dropped due full receive queue.
func (d *Device) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops receiving and closes socket.
func (d *Device) Close() error {
	if d.cancel != nil {
		d.cancel()
		d.wg.Wait()
	}
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
