// Package auxinput turns Linux evdev button presses (joysticks, gamepads,
// macro pads) into DSKY key events.
package auxinput

import (
	"encoding/binary"
	"errors"
	"time"
)

// EventSize is the length of a struct input_event on 64-bit kernels.
const EventSize = 24

// Event types and key values used here.
const (
	EvSyn = 0x00
	EvKey = 0x01

	KeyUp     = 0
	KeyDown   = 1
	KeyRepeat = 2
)

var ErrShortEvent = errors.New("auxinput: short input event")

// Event is one decoded input_event record.
type Event struct {
	Time  time.Time
	Type  uint16
	Code  uint16
	Value int32
}

// Decode parses one record in host byte order.
func Decode(b []byte) (Event, error) {
	if len(b) < EventSize {
		return Event{}, ErrShortEvent
	}
	sec := int64(binary.NativeEndian.Uint64(b[0:8]))
	usec := int64(binary.NativeEndian.Uint64(b[8:16]))
	return Event{
		Time:  time.Unix(sec, usec*int64(time.Microsecond)),
		Type:  binary.NativeEndian.Uint16(b[16:18]),
		Code:  binary.NativeEndian.Uint16(b[18:20]),
		Value: int32(binary.NativeEndian.Uint32(b[20:24])),
	}, nil
}

// Encode is the inverse of Decode; used by tests and replay tools.
func (e Event) Encode() []byte {
	b := make([]byte, EventSize)
	usec := e.Time.UnixMicro()
	binary.NativeEndian.PutUint64(b[0:8], uint64(usec/1e6))
	binary.NativeEndian.PutUint64(b[8:16], uint64(usec%1e6))
	binary.NativeEndian.PutUint16(b[16:18], e.Type)
	binary.NativeEndian.PutUint16(b[18:20], e.Code)
	binary.NativeEndian.PutUint32(b[20:24], uint32(e.Value))
	return b
}
