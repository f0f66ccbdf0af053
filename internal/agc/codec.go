package agc

import (
	"bytes"

	"github.com/kstaniek/go-pidsky/internal/metrics"
)

// Codec decodes a yaAGC byte stream. Stateless and safe for concurrent use
// as long as each caller owns its buffer.
type Codec struct {
	// OnReject, if set, is called with a copy of each rejected window (not
	// filler) before the stream is resynchronized.
	OnReject func(window [FrameSize]byte)
}

// Stats summarizes one DecodeStream pass.
type Stats struct {
	Frames    int // frames emitted
	Rejected  int // windows that failed signature validation
	Discarded int // bytes dropped while resynchronizing or as filler
	Filler    int // all-0xFF keep-alive windows dropped
}

// compactMin is the unread size below which a buffer is never compacted. A
// yaAGC link idles at a few frames per tick, so the reassembly buffer only
// grows past it after a burst such as a display refresh.
const compactMin = 256 * FrameSize

// CompactBuffer copies the unread bytes of b to a fresh backing array once
// they fill less than a quarter of its capacity, so a long-lived stream
// buffer does not keep a burst-sized allocation. It reports whether it
// compacted.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < compactMin {
		return false
	}
	if len(data)*4 < cap(data) {
		*b = *bytes.NewBuffer(bytes.Clone(data))
		return true
	}
	return false
}

// DecodeStream consumes whole frames from in and emits them via out until
// fewer than FrameSize bytes remain. A window failing validation is not
// skipped as a whole: the decoder re-aligns on the first byte at offset 1..3
// that can start a frame, so at most 3 bytes are lost per corrupt frame.
// A window of four 0xFF bytes is keep-alive filler and is dropped silently.
func (c Codec) DecodeStream(in *bytes.Buffer, out func(Frame)) Stats {
	var st Stats
	for {
		_ = CompactBuffer(in)
		data := in.Bytes()
		if len(data) < FrameSize {
			return st
		}
		if isFiller(data) {
			in.Next(FrameSize)
			st.Filler++
			st.Discarded += FrameSize
			metrics.IncFiller()
			continue
		}
		f, err := DecodeFrame(data)
		if err != nil {
			st.Rejected++
			metrics.IncMalformed()
			if c.OnReject != nil {
				var w [FrameSize]byte
				copy(w[:], data[:FrameSize])
				c.OnReject(w)
			}
			skip := resyncOffset(data)
			in.Next(skip)
			st.Discarded += skip
			metrics.AddResync(skip)
			continue
		}
		in.Next(FrameSize)
		st.Frames++
		metrics.IncRx()
		out(f)
	}
}

// resyncOffset returns how many leading bytes of a rejected window to drop.
func resyncOffset(w []byte) int {
	for i := 1; i < FrameSize; i++ {
		if isLead(w[i]) {
			return i
		}
	}
	return FrameSize
}
