package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/aldas/go-mlcb"
	"golang.org/x/sys/unix"
)

const (
	canRaw = 1

	// canFrameSize is size of `struct can_frame` in linux/can.h
	canFrameSize = 16

	// canSFFMask is bitmask to get 0-10 bits belonging to standard frame CAN ID
	canSFFMask = uint32(0x7FF)
	// canEFFMask is bitmask to get 0-28 bits belonging to extended frame CAN ID
	canEFFMask = uint32(0x1FFFFFFF)
	flagError    = uint32(1 << 29) // CAN_ERR_FLAG, error frame from controller
	flagRemote   = uint32(1 << 30) // CAN_RTR_FLAG
	flagExtended = uint32(1 << 31) // CAN_EFF_FLAG, 29 bit identifier
)

var errReadTimeout = errors.New("read timeout")
var errWriteTimeout = errors.New("write timeout")
var errErrorFrame = errors.New("read CAN error message frame")

// Socket is raw SocketCAN socket bound to single interface.
type Socket struct {
	socketFD int
	timeNow  func() time.Time
}

// OpenSocket opens raw CAN socket on interface, e.g. can0 or vcan0.
func OpenSocket(ifName string) (*Socket, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("socketcan: unknown interface %v: %w", ifName, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}

	addr := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err = unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %v: %w", ifName, err)
	}

	return &Socket{
		socketFD: fd,
		timeNow:  time.Now,
	}, nil
}

// isRetryable reports errors after which socket is still usable: timeout set with SO_RCVTIMEO/SO_SNDTIMEO
// elapsed (EWOULDBLOCK) or call was interrupted by signal (EINTR).
func isRetryable(err error) bool {
	return err == syscall.EWOULDBLOCK || err == syscall.EINTR
}

func (s Socket) SetReadTimeout(timeout time.Duration) error {
	return s.setSocketTimeout(unix.SO_RCVTIMEO, timeout)
}

func (s Socket) SetSendTimeout(timeout time.Duration) error {
	return s.setSocketTimeout(unix.SO_SNDTIMEO, timeout)
}

func (s Socket) setSocketTimeout(opt int, timeout time.Duration) error {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	return unix.SetsockoptTimeval(s.socketFD, unix.SOL_SOCKET, opt, &tv)
}

func (s Socket) Close() error {
	return unix.Close(s.socketFD)
}

// SendFrame writes frame to socket.
func (s Socket) SendFrame(frame mlcb.Frame) error {
	_, err := unix.Write(s.socketFD, encodeFrame(frame))
	if isRetryable(err) {
		return errWriteTimeout
	}
	return err
}

// ReadFrame reads next frame from socket. Blocks until frame is received or read timeout passes.
func (s Socket) ReadFrame() (mlcb.Frame, error) {
	canFrame := make([]byte, canFrameSize)
	_, err := unix.Read(s.socketFD, canFrame)
	if err != nil {
		if isRetryable(err) {
			return mlcb.Frame{}, errReadTimeout
		}
		return mlcb.Frame{}, err
	}
	f, err := decodeFrame(canFrame)
	if err != nil {
		return mlcb.Frame{}, err
	}
	f.Time = s.timeNow()
	return f, nil
}

// encodeFrame converts frame to `struct can_frame`
// See: https://github.com/linux-can/can-utils/blob/affdc1b79973c7497bb8607603c24734e11a91aa/include/linux/can.h#L107
func encodeFrame(frame mlcb.Frame) []byte {
	canFrame := make([]byte, canFrameSize)

	canID := frame.ID & canSFFMask
	if frame.Extended {
		canID = frame.ID&canEFFMask | flagExtended
	}
	if frame.RTR {
		canID |= flagRemote
	}
	binary.LittleEndian.PutUint32(canFrame[0:4], canID) // host byte order, little-endian targets only

	length := frame.Length
	if length > mlcb.MaxFrameLength {
		length = mlcb.MaxFrameLength
	}
	canFrame[4] = length
	if !frame.RTR {
		copy(canFrame[8:], frame.Data[:length])
	}
	return canFrame
}

func decodeFrame(canFrame []byte) (mlcb.Frame, error) {
	if len(canFrame) < canFrameSize {
		return mlcb.Frame{}, fmt.Errorf("CAN frame too short: %v bytes", len(canFrame))
	}
	canID := binary.LittleEndian.Uint32(canFrame[0:4])
	if canID&flagError != 0 {
		return mlcb.Frame{}, errErrorFrame
	}

	f := mlcb.Frame{
		Extended: canID&flagExtended != 0,
		RTR:      canID&flagRemote != 0,
		Length:   canFrame[4],
	}
	if f.Length > mlcb.MaxFrameLength {
		f.Length = mlcb.MaxFrameLength
	}
	if f.Extended {
		f.ID = canID & canEFFMask
	} else {
		f.ID = canID & canSFFMask
	}
	if !f.RTR {
		copy(f.Data[:], canFrame[8:8+f.Length])
	}
	return f, nil
}
