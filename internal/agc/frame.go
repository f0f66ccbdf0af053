// Package agc implements the yaAGC socket protocol: 4-byte frames carrying a
// 7-bit channel and a 15-bit payload, with fixed 2-bit signatures in the
// top of bytes 1..3 so a receiver can re-align after garbage.
package agc

import (
	"errors"
	"fmt"
)

// FrameSize is the fixed wire size of one frame.
const FrameSize = 4

const (
	MaxChannel = 0x7F
	MaxPayload = 0x7FFF
)

// Lead nibbles of byte0.
const (
	leadData = 0x00
	leadMask = 0x20
)

// Signatures in the top two bits of bytes 1..3.
const (
	sig1 = 0x40
	sig2 = 0x80
	sig3 = 0xC0
)

var (
	// ErrShortFrame is returned when fewer than FrameSize bytes are supplied.
	ErrShortFrame = errors.New("agc: short frame")
	// ErrBadSignature is returned when a window fails signature validation.
	ErrBadSignature = errors.New("agc: bad frame signature")
)

// Kind tells a data frame from a mask frame.
type Kind uint8

const (
	KindData Kind = iota
	KindMask
)

func (k Kind) String() string {
	if k == KindMask {
		return "mask"
	}
	return "data"
}

// Frame is one decoded wire unit.
type Frame struct {
	Kind    Kind
	Channel uint8
	Payload uint16
}

// ChannelEvent is a validated downlink write of Value to Channel.
type ChannelEvent struct {
	Channel uint8
	Value   uint16
}

// Event converts a data frame into a ChannelEvent.
func (f Frame) Event() ChannelEvent { return ChannelEvent{Channel: f.Channel, Value: f.Payload} }

// EncodeFrame packs f into its 4-byte wire form. Out of range channel and
// payload bits are truncated.
func EncodeFrame(f Frame) [FrameSize]byte {
	var b [FrameSize]byte
	lead := byte(leadData)
	if f.Kind == KindMask {
		lead = leadMask
	}
	ch := f.Channel & MaxChannel
	p := f.Payload & MaxPayload
	b[0] = lead | (ch>>3)&0x0F
	b[1] = sig1 | (ch<<3)&0x38 | byte(p>>12)&0x07
	b[2] = sig2 | byte(p>>6)&0x3F
	b[3] = sig3 | byte(p)&0x3F
	return b
}

// Pack builds the uplink pair for (channel, value, mask): the mask frame
// followed by the data frame. The pair must be written as one unit.
func Pack(channel uint8, value, mask uint16) [2 * FrameSize]byte {
	var out [2 * FrameSize]byte
	m := EncodeFrame(Frame{Kind: KindMask, Channel: channel, Payload: mask})
	d := EncodeFrame(Frame{Kind: KindData, Channel: channel, Payload: value})
	copy(out[:FrameSize], m[:])
	copy(out[FrameSize:], d[:])
	return out
}

// DecodeFrame validates and parses the first FrameSize bytes of b.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if len(b) < FrameSize {
		return f, ErrShortFrame
	}
	if !validWindow(b) {
		return f, fmt.Errorf("%w: % X", ErrBadSignature, b[:FrameSize])
	}
	if b[0]&0xF0 == leadMask {
		f.Kind = KindMask
	}
	f.Channel = (b[0]&0x0F)<<3 | (b[1]&0x38)>>3
	f.Payload = uint16(b[1]&0x07)<<12 | uint16(b[2]&0x3F)<<6 | uint16(b[3]&0x3F)
	return f, nil
}

func validWindow(b []byte) bool {
	return isLead(b[0]) && b[1]&0xC0 == sig1 && b[2]&0xC0 == sig2 && b[3]&0xC0 == sig3
}

// isLead reports whether c can start a frame.
func isLead(c byte) bool {
	n := c & 0xF0
	return n == leadData || n == leadMask
}

func isFiller(b []byte) bool {
	return b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF
}
