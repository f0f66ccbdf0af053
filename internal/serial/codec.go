// Package serial drives a DSKY front panel (TM1638 boards behind a
// microcontroller) over a UART link.
//
// Frames in both directions are [0x2D, 0xD4, len, INS, args..., sum] where
// len = 1 + len(INS, args) and sum = 0x2D + len + INS + sum(args) (mod 256).
package serial

import (
	"bytes"

	"github.com/kstaniek/go-pidsky/internal/agc"
	"github.com/kstaniek/go-pidsky/internal/metrics"
)

const (
	pre0 = 0x2D
	pre1 = 0xD4

	maxArgs = 8
)

// Panel instructions (host to panel).
const (
	InsSetDigit    = 0x01 // pos, glyph
	InsSetRegister = 0x02 // addr, value
	InsClear       = 0x03
	InsReadKeys    = 0x04
)

// InsKeys is the panel reply to InsReadKeys: four matrix bytes.
const InsKeys = 0x84

// Message is one decoded frame body.
type Message struct {
	Ins  byte
	Args []byte
}

type Codec struct{}

// Encode builds the UART frame for an instruction.
func (Codec) Encode(ins byte, args ...byte) []byte {
	n := 1 + len(args)
	frame := make([]byte, n+4)
	frame[0] = pre0
	frame[1] = pre1
	frame[2] = byte(n + 1)
	frame[3] = ins
	sum := frame[2] + pre0 + ins
	for i, b := range args {
		frame[4+i] = b
		sum += b
	}
	frame[3+n] = sum
	return frame
}

// DecodeStream reads from in and emits complete messages via out. Garbage
// before a preamble is skipped; a bad length or checksum drops one byte
// and re-aligns.
func (Codec) DecodeStream(in *bytes.Buffer, out func(Message)) {
	const (
		minLn = 1 + 1           // INS + checksum
		maxLn = 1 + maxArgs + 1 // INS + args + checksum
	)
	header := []byte{pre0, pre1}

	for {
		_ = agc.CompactBuffer(in)
		data := in.Bytes()
		if len(data) < 3 {
			return
		}

		i := bytes.Index(data, header)
		if i < 0 {
			// keep last byte in case next read starts with the second preamble byte
			last := data[len(data)-1]
			in.Reset()
			_ = in.WriteByte(last)
			return
		}
		if i > 0 {
			in.Next(i)
			continue
		}

		ln := int(data[2])
		if ln < minLn || ln > maxLn {
			metrics.IncError(metrics.ErrSerialRead)
			in.Next(1)
			continue
		}
		req := 3 + ln
		if len(data) < req {
			return
		}
		sum := uint(pre0) + uint(data[2])
		for _, b := range data[3 : req-1] {
			sum += uint(b)
		}
		if byte(sum) != data[req-1] {
			metrics.IncError(metrics.ErrSerialRead)
			in.Next(1)
			continue
		}
		m := Message{Ins: data[3], Args: append([]byte(nil), data[4:req-1]...)}
		in.Next(req)
		out(m)
	}
}
