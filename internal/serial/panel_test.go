package serial

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/logging"
)

// fakePort answers InsReadKeys with the next scripted sample.
type fakePort struct {
	mu      sync.Mutex
	written [][]byte
	replies []dsky.Sample
	pending bytes.Buffer
	readErr error
	closed  bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, append([]byte(nil), b...))
	if len(b) > 3 && b[3] == InsReadKeys && len(p.replies) > 0 {
		s := p.replies[0]
		p.replies = p.replies[1:]
		p.pending.Write(Codec{}.Encode(InsKeys, s[:]...))
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.pending.Len() == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, io.EOF
	}
	// dribble replies out a few bytes at a time
	n := 3
	if n > len(b) {
		n = len(b)
	}
	return p.pending.Read(b[:n])
}

func (p *fakePort) Close() error { p.mu.Lock(); p.closed = true; p.mu.Unlock(); return nil }

func (p *fakePort) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

func newTestPanel(p *fakePort, opts ...PanelOption) *Panel {
	opts = append([]PanelOption{WithLogger(logging.Discard()), WithReplyTimeout(20 * time.Millisecond)}, opts...)
	return NewPanel(p, opts...)
}

func TestPanelSetDigitPositions(t *testing.T) {
	fp := &fakePort{}
	p := newTestPanel(fp)
	if err := p.SetDigit(dsky.FieldV1, '7'); err != nil {
		t.Fatalf("set digit: %v", err)
	}
	if err := p.SetDigit(dsky.FieldS3, '+'); err != nil {
		t.Fatalf("set sign: %v", err)
	}
	got := fp.frames()
	if !bytes.Equal(got[0], Codec{}.Encode(InsSetDigit, 14, '7')) {
		t.Fatalf("V1 frame % X", got[0])
	}
	// plus is unprintable on seven segments
	if !bytes.Equal(got[1], Codec{}.Encode(InsSetDigit, 0, ' ')) {
		t.Fatalf("S3 frame % X", got[1])
	}
}

func TestPanelDigitIndexUnique(t *testing.T) {
	seen := map[byte]dsky.Field{}
	for f := dsky.Field(0); f < dsky.NumFields; f++ {
		idx := digitIndex[f]
		if other, ok := seen[idx]; ok {
			t.Fatalf("%s and %s share index %d", f, other, idx)
		}
		seen[idx] = f
	}
}

func TestPanelRegisters(t *testing.T) {
	fp := &fakePort{}
	p := newTestPanel(fp)
	if err := p.SetRegister(dsky.RegTrackerOprErr, 2); err != nil {
		t.Fatalf("set register: %v", err)
	}
	if err := p.SetRegister(dsky.RegTest, 1); err != nil {
		t.Fatalf("set test: %v", err)
	}
	got := fp.frames()
	if len(got) != 1 || !bytes.Equal(got[0], Codec{}.Encode(InsSetRegister, 0x09, 2)) {
		t.Fatalf("frames % X", got)
	}
}

func TestPanelReadKeys(t *testing.T) {
	fp := &fakePort{replies: []dsky.Sample{{0, 64, 0, 0}, {}}}
	p := newTestPanel(fp)
	s, err := p.ReadKeys()
	if err != nil || s != (dsky.Sample{0, 64, 0, 0}) {
		t.Fatalf("got %v %v", s, err)
	}
	s, err = p.ReadKeys()
	if err != nil || !s.IsZero() {
		t.Fatalf("got %v %v", s, err)
	}
}

func TestPanelMissedRepliesThenFail(t *testing.T) {
	fp := &fakePort{replies: []dsky.Sample{{4, 0, 0, 0}}}
	p := newTestPanel(fp, WithMaxMisses(3), WithReplyTimeout(5*time.Millisecond))
	if s, _ := p.ReadKeys(); s != (dsky.Sample{4, 0, 0, 0}) {
		t.Fatalf("first read %v", s)
	}
	for i := 0; i < 2; i++ {
		s, err := p.ReadKeys()
		if err != nil {
			t.Fatalf("miss %d: %v", i, err)
		}
		if s != (dsky.Sample{4, 0, 0, 0}) {
			t.Fatalf("miss %d should repeat last sample, got %v", i, s)
		}
	}
	if _, err := p.ReadKeys(); !errors.Is(err, ErrNoReply) {
		t.Fatalf("got %v want ErrNoReply", err)
	}
}

func TestPanelDeviceRemoved(t *testing.T) {
	fp := &fakePort{readErr: &os.PathError{Op: "read", Path: "/dev/ttyUSB0", Err: errors.New("no such device")}}
	p := newTestPanel(fp)
	if _, err := p.ReadKeys(); !errors.Is(err, ErrRead) {
		t.Fatalf("got %v want ErrRead", err)
	}
}

func TestPanelClose(t *testing.T) {
	fp := &fakePort{}
	p := newTestPanel(fp)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := fp.frames()
	if len(got) != 1 || !bytes.Equal(got[0], Codec{}.Encode(InsClear)) || !fp.closed {
		t.Fatalf("close frames % X closed=%v", got, fp.closed)
	}
	if err := p.SetDigit(dsky.FieldV1, '1'); !errors.Is(err, dsky.ErrClosed) {
		t.Fatalf("got %v want ErrClosed", err)
	}
}
