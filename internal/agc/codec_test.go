package agc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kstaniek/go-pidsky/internal/metrics"
)

func TestFrame_RoundTripAllChannels(t *testing.T) {
	for ch := 0; ch <= MaxChannel; ch++ {
		for v := 0; v <= 16383; v++ {
			mask := uint16(v) ^ 0x2AAA
			pair := Pack(uint8(ch), uint16(v), mask)
			m, err := DecodeFrame(pair[:FrameSize])
			if err != nil {
				t.Fatalf("ch=%o v=%d mask frame: %v", ch, v, err)
			}
			d, err := DecodeFrame(pair[FrameSize:])
			if err != nil {
				t.Fatalf("ch=%o v=%d data frame: %v", ch, v, err)
			}
			if m.Kind != KindMask || m.Channel != uint8(ch) || m.Payload != mask {
				t.Fatalf("mask frame mismatch: got %+v want ch=%d payload=%d", m, ch, mask)
			}
			if d.Kind != KindData || d.Channel != uint8(ch) || d.Payload != uint16(v) {
				t.Fatalf("data frame mismatch: got %+v want ch=%d payload=%d", d, ch, v)
			}
		}
	}
}

func TestFrame_FullPayloadWidth(t *testing.T) {
	// Channel 010 words use all 15 payload bits (row selector in 14..11).
	f := Frame{Kind: KindData, Channel: 0o10, Payload: 12<<11 | 0x104}
	b := EncodeFrame(f)
	got, err := DecodeFrame(b[:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != f {
		t.Fatalf("got %+v want %+v", got, f)
	}
}

func TestFrame_KnownWire(t *testing.T) {
	// Matches create_packet(8, 20509) from the mock server.
	b := EncodeFrame(Frame{Channel: 8, Payload: 20509})
	want := [4]byte{0x01, 0x45, 0x80, 0xDD}
	if b != want {
		t.Fatalf("wire mismatch: got % X want % X", b, want)
	}
}

func TestDecodeFrame_Errors(t *testing.T) {
	if _, err := DecodeFrame([]byte{0, 0x40}); !errors.Is(err, ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	bad := [][]byte{
		{0x00, 0x00, 0x80, 0xC0}, // byte1 signature
		{0x00, 0x40, 0x40, 0xC0}, // byte2 signature
		{0x00, 0x40, 0x80, 0x80}, // byte3 signature
		{0x50, 0x40, 0x80, 0xC0}, // lead nibble
	}
	for i, b := range bad {
		if _, err := DecodeFrame(b); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("case %d: expected ErrBadSignature, got %v", i, err)
		}
	}
}

func collect(t *testing.T, stream []byte, chunk int) ([]Frame, Stats) {
	t.Helper()
	var (
		buf   bytes.Buffer
		out   []Frame
		total Stats
	)
	for pos := 0; pos < len(stream); pos += chunk {
		end := pos + chunk
		if end > len(stream) {
			end = len(stream)
		}
		buf.Write(stream[pos:end])
		st := Codec{}.DecodeStream(&buf, func(f Frame) { out = append(out, f) })
		total.Frames += st.Frames
		total.Rejected += st.Rejected
		total.Discarded += st.Discarded
		total.Filler += st.Filler
	}
	return out, total
}

func TestDecodeStream_Chunked(t *testing.T) {
	var stream []byte
	want := []Frame{
		{Kind: KindData, Channel: 0o10, Payload: 10<<11 | 3<<5 | 30},
		{Kind: KindData, Channel: 0o11, Payload: 0x04},
		{Kind: KindMask, Channel: 0o15, Payload: 0o37},
		{Kind: KindData, Channel: 0o15, Payload: 0o21},
		{Kind: KindData, Channel: 0o163, Payload: 0o110},
	}
	for _, f := range want {
		b := EncodeFrame(f)
		stream = append(stream, b[:]...)
	}
	for _, chunk := range []int{1, 2, 3, 4, 5, 7, 64} {
		got, st := collect(t, stream, chunk)
		if len(got) != len(want) {
			t.Fatalf("chunk %d: decoded %d frames want %d", chunk, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("chunk %d frame %d: got %+v want %+v", chunk, i, got[i], want[i])
			}
		}
		if st.Rejected != 0 || st.Discarded != 0 {
			t.Fatalf("chunk %d: unexpected rejects %+v", chunk, st)
		}
	}
}

func TestDecodeStream_ResyncAfterInsertedByte(t *testing.T) {
	for _, junk := range []byte{0x55, 0x03, 0xC7, 0x9F, 0x41} {
		pair := Pack(0o15, 0o21, 0o37)
		stream := append([]byte{junk}, pair[:]...)
		before := metrics.Snap().Malformed
		got, st := collect(t, stream, len(stream))
		if len(got) != 2 {
			t.Fatalf("junk %#x: decoded %d frames want 2", junk, len(got))
		}
		if st.Discarded > 3 || st.Discarded < 1 {
			t.Fatalf("junk %#x: discarded %d bytes, want 1..3", junk, st.Discarded)
		}
		var p Pairer
		p.Push(got[0])
		u, ok := p.Push(got[1])
		if !ok || u.Channel != 0o15 || u.Value != 0o21 || !u.Masked || u.Mask != 0o37 {
			t.Fatalf("junk %#x: paired update %+v ok=%v", junk, u, ok)
		}
		if metrics.Snap().Malformed <= before {
			t.Fatalf("junk %#x: expected malformed metric increment", junk)
		}
	}
}

func TestDecodeStream_ResyncBoundPerCorruptFrame(t *testing.T) {
	// A frame whose byte2 is corrupted can cost at most the frame itself;
	// the decoder then picks up the next good frame.
	good := EncodeFrame(Frame{Channel: 0o11, Payload: 0x22})
	bad := good
	bad[2] = 0x00
	stream := append(append([]byte{}, bad[:]...), good[:]...)
	got, st := collect(t, stream, 3)
	if len(got) != 1 || got[0].Channel != 0o11 || got[0].Payload != 0x22 {
		t.Fatalf("unexpected frames %+v", got)
	}
	if st.Discarded > FrameSize {
		t.Fatalf("discarded %d bytes", st.Discarded)
	}
}

func TestDecodeStream_FillerDroppedSilently(t *testing.T) {
	f := EncodeFrame(Frame{Channel: 0o13, Payload: 0o1000})
	stream := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	stream = append(stream, f[:]...)
	stream = append(stream, 0xFF, 0xFF, 0xFF, 0xFF)
	got, st := collect(t, stream, len(stream))
	if len(got) != 1 {
		t.Fatalf("decoded %d frames want 1", len(got))
	}
	if st.Filler != 2 || st.Rejected != 0 {
		t.Fatalf("stats %+v, want 2 filler and no rejects", st)
	}
}

func TestDecodeStream_OnReject(t *testing.T) {
	var seen [][FrameSize]byte
	c := Codec{OnReject: func(w [FrameSize]byte) { seen = append(seen, w) }}
	var buf bytes.Buffer
	buf.Write([]byte{0x77, 0x01, 0x45, 0x80, 0xDD})
	st := c.DecodeStream(&buf, func(Frame) {})
	if st.Frames != 1 || len(seen) != 1 || seen[0][0] != 0x77 {
		t.Fatalf("stats %+v seen % X", st, seen)
	}
}

func TestDecodeStream_KeepsPartialTail(t *testing.T) {
	f := EncodeFrame(Frame{Channel: 0o10, Payload: 1})
	var buf bytes.Buffer
	buf.Write(f[:3])
	st := Codec{}.DecodeStream(&buf, func(Frame) { t.Fatal("unexpected frame") })
	if st.Frames != 0 || buf.Len() != 3 {
		t.Fatalf("partial frame consumed: stats %+v len %d", st, buf.Len())
	}
}

func TestCompactBuffer(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{1, 2, 3, 4}, 8*compactMin/FrameSize))
	buf.Next(7 * compactMin)
	before := append([]byte(nil), buf.Bytes()...)
	if !CompactBuffer(&buf) {
		t.Fatal("expected compaction")
	}
	if !bytes.Equal(buf.Bytes(), before) || cap(buf.Bytes()) >= 4*buf.Len() {
		t.Fatalf("len %d cap %d", buf.Len(), cap(buf.Bytes()))
	}
	buf.Next(buf.Len() - FrameSize)
	if CompactBuffer(&buf) {
		t.Fatal("small unread tail must not be compacted")
	}
}

func TestPairer(t *testing.T) {
	var p Pairer
	if _, ok := p.Push(Frame{Kind: KindMask, Channel: 0o32, Payload: 0o20000}); ok {
		t.Fatal("mask frame must not complete an update")
	}
	u, ok := p.Push(Frame{Kind: KindData, Channel: 0o32, Payload: 0})
	if !ok || !u.Masked || u.Mask != 0o20000 || u.Value != 0 {
		t.Fatalf("unexpected update %+v", u)
	}
	// lone data frame: no mask
	u, ok = p.Push(Frame{Kind: KindData, Channel: 0o10, Payload: 5})
	if !ok || u.Masked {
		t.Fatalf("lone data frame should be unmasked: %+v", u)
	}
	// mask for another channel does not attach
	p.Push(Frame{Kind: KindMask, Channel: 0o15, Payload: 0o37})
	u, _ = p.Push(Frame{Kind: KindData, Channel: 0o11, Payload: 2})
	if u.Masked {
		t.Fatalf("mask from other channel attached: %+v", u)
	}
}

func TestUpdateBytes(t *testing.T) {
	u := Update{Channel: 0o15, Value: 0o34, Mask: 0o37, Masked: true}
	if b := u.Bytes(); len(b) != 2*FrameSize {
		t.Fatalf("masked update length %d", len(b))
	}
	u.Masked = false
	if b := u.Bytes(); len(b) != FrameSize {
		t.Fatalf("unmasked update length %d", len(b))
	}
}
