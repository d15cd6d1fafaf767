// Package gridconnect implements CAN transport over serial CAN adapters that speak GridConnect ASCII protocol
// (CANUSB4, CANRPI and similar).
//
// Frame format:
//
//	:S<hdr>N<data>;  standard data frame, hdr is 11 bit identifier shifted left by 5 bits as 4 hex digits
//	:S<hdr>R;        standard remote frame
//	:X<id>N<data>;   extended frame, id is 29 bit identifier as 8 hex digits
package gridconnect

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aldas/go-mlcb"
)

const hextable = "0123456789ABCDEF"

var errInvalidFrame = errors.New("invalid gridconnect frame")

// encodeFrame converts frame to GridConnect ASCII bytes.
func encodeFrame(frame mlcb.Frame) []byte {
	b := make([]byte, 0, 28)
	b = append(b, ':')
	if frame.Extended {
		b = append(b, 'X')
		b = appendHex(b, frame.ID&0x1FFFFFFF, 8)
	} else {
		b = append(b, 'S')
		b = appendHex(b, (frame.ID&0x7FF)<<5, 4)
	}
	if frame.RTR {
		b = append(b, 'R')
	} else {
		b = append(b, 'N')
		length := frame.Length
		if length > mlcb.MaxFrameLength {
			length = mlcb.MaxFrameLength
		}
		for _, v := range frame.Data[:length] {
			b = append(b, hextable[v>>4], hextable[v&0x0f])
		}
	}
	return append(b, ';')
}

func appendHex(b []byte, v uint32, digits int) []byte {
	for i := digits - 1; i >= 0; i-- {
		b = append(b, hextable[(v>>(uint(i)*4))&0x0f])
	}
	return b
}

// parseFrame parses single GridConnect frame. Input must start with ':' and end with ';'.
func parseFrame(raw []byte, now time.Time) (mlcb.Frame, error) {
	// Example: `:SB020N9101000005;`
	if len(raw) < 4 || raw[0] != ':' || raw[len(raw)-1] != ';' {
		return mlcb.Frame{}, errInvalidFrame
	}
	body := raw[1 : len(raw)-1]

	f := mlcb.Frame{Time: now}
	idLength := 4
	switch body[0] {
	case 'S':
	case 'X':
		f.Extended = true
		idLength = 8
	default:
		return mlcb.Frame{}, fmt.Errorf("%w: unknown frame type %q", errInvalidFrame, body[0])
	}
	if len(body) < 1+idLength+1 {
		return mlcb.Frame{}, fmt.Errorf("%w: too short", errInvalidFrame)
	}
	id, err := strconv.ParseUint(string(body[1:1+idLength]), 16, 32)
	if err != nil {
		return mlcb.Frame{}, fmt.Errorf("%w: bad identifier: %v", errInvalidFrame, err)
	}
	if f.Extended {
		f.ID = uint32(id) & 0x1FFFFFFF
	} else {
		f.ID = uint32(id>>5) & 0x7FF
	}

	rest := body[1+idLength:]
	switch rest[0] {
	case 'N':
	case 'R':
		f.RTR = true
		return f, nil
	default:
		return mlcb.Frame{}, fmt.Errorf("%w: unknown frame kind %q", errInvalidFrame, rest[0])
	}
	data := rest[1:]
	if len(data)%2 != 0 || len(data) > mlcb.MaxFrameLength*2 {
		return mlcb.Frame{}, fmt.Errorf("%w: bad data length", errInvalidFrame)
	}
	n, err := hex.Decode(f.Data[:], data)
	if err != nil {
		return mlcb.Frame{}, fmt.Errorf("%w: bad data: %v", errInvalidFrame, err)
	}
	f.Length = uint8(n)
	return f, nil
}
