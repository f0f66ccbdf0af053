package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/metrics"
)

const (
	DefaultReplyTimeout = 100 * time.Millisecond
	DefaultMaxMisses    = 20

	readBufSize = 64
)

var (
	ErrWrite   = errors.New("serial_write")
	ErrRead    = errors.New("serial_read")
	ErrNoReply = errors.New("serial_no_reply")
)

// digitIndex is the TM1638 segment position of each display field.
var digitIndex = [dsky.NumFields]byte{
	dsky.FieldM1: 22, dsky.FieldM2: 23,
	dsky.FieldV1: 14, dsky.FieldV2: 15,
	dsky.FieldN1: 6, dsky.FieldN2: 7,
	dsky.Field11: 17, dsky.Field12: 18, dsky.Field13: 19, dsky.Field14: 20, dsky.Field15: 21,
	dsky.Field21: 9, dsky.Field22: 10, dsky.Field23: 11, dsky.Field24: 12, dsky.Field25: 13,
	dsky.Field31: 1, dsky.Field32: 2, dsky.Field33: 3, dsky.Field34: 4, dsky.Field35: 5,
	dsky.FieldS1: 16, dsky.FieldS2: 8, dsky.FieldS3: 0,
}

type PanelOption func(*Panel)

func WithLogger(l *slog.Logger) PanelOption { return func(p *Panel) { p.log = l } }

func WithReplyTimeout(d time.Duration) PanelOption {
	return func(p *Panel) {
		if d > 0 {
			p.replyTimeout = d
		}
	}
}

// WithMaxMisses sets how many consecutive unanswered key reads are
// tolerated before ReadKeys fails.
func WithMaxMisses(n int) PanelOption {
	return func(p *Panel) {
		if n > 0 {
			p.maxMisses = n
		}
	}
}

// Panel implements dsky.Facade over a serial link. Every call is a
// synchronous write; ReadKeys waits for the matrix reply.
type Panel struct {
	mu           sync.Mutex
	port         Port
	codec        Codec
	log          *slog.Logger
	now          func() time.Time
	replyTimeout time.Duration
	maxMisses    int

	rx     bytes.Buffer
	buf    []byte
	last   dsky.Sample
	misses int
	closed bool
}

// NewPanel wraps an open port.
func NewPanel(port Port, opts ...PanelOption) *Panel {
	p := &Panel{
		port:         port,
		log:          logging.L(),
		now:          time.Now,
		replyTimeout: DefaultReplyTimeout,
		maxMisses:    DefaultMaxMisses,
		buf:          make([]byte, readBufSize),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetDigit shows glyph at f. Seven-segment digits cannot draw '+', so a
// plus sign is shown blank.
func (p *Panel) SetDigit(f dsky.Field, glyph byte) error {
	if f >= dsky.NumFields {
		return fmt.Errorf("%w: field %d", ErrWrite, f)
	}
	if glyph == '+' {
		glyph = ' '
	}
	return p.send(InsSetDigit, digitIndex[f], glyph)
}

// SetRegister writes a lamp register. The TEST indicator has no LED on the
// panel and is accepted without a write.
func (p *Panel) SetRegister(r dsky.Register, value uint8) error {
	if r == dsky.RegTest {
		return nil
	}
	return p.send(InsSetRegister, byte(r), value)
}

func (p *Panel) Clear() error { return p.send(InsClear) }

func (p *Panel) send(ins byte, args ...byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked(ins, args...)
}

func (p *Panel) sendLocked(ins byte, args ...byte) error {
	if p.closed {
		return dsky.ErrClosed
	}
	frame := p.codec.Encode(ins, args...)
	n, err := p.port.Write(frame)
	if err == nil && n != len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		metrics.IncError(metrics.ErrSerialWrite)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// ReadKeys requests the key matrix and waits for the reply. A missed reply
// repeats the previous sample; too many in a row is an error.
func (p *Panel) ReadKeys() (dsky.Sample, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendLocked(InsReadKeys); err != nil {
		return dsky.Sample{}, err
	}
	deadline := p.now().Add(p.replyTimeout)
	for {
		var (
			s     dsky.Sample
			found bool
		)
		p.codec.DecodeStream(&p.rx, func(m Message) {
			if m.Ins != InsKeys || len(m.Args) != len(s) {
				p.log.Debug("panel_message_ignored", "ins", m.Ins, "len", len(m.Args))
				return
			}
			copy(s[:], m.Args)
			found = true
		})
		if found {
			p.misses = 0
			p.last = s
			return s, nil
		}
		if !p.now().Before(deadline) {
			p.misses++
			metrics.IncError(metrics.ErrSerialRead)
			if p.misses >= p.maxMisses {
				return dsky.Sample{}, fmt.Errorf("%w: %d consecutive key reads", ErrNoReply, p.misses)
			}
			p.log.Debug("panel_key_reply_missed", "misses", p.misses)
			return p.last, nil
		}
		n, err := p.port.Read(p.buf)
		if n > 0 {
			p.rx.Write(p.buf[:n])
		}
		if err != nil {
			var perr *os.PathError
			if errors.As(err, &perr) {
				return dsky.Sample{}, fmt.Errorf("%w: %v", ErrRead, err) // device removed or fatal
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // read timeout
			}
			metrics.IncError(metrics.ErrSerialRead)
			return dsky.Sample{}, fmt.Errorf("%w: %v", ErrRead, err)
		}
	}
}

// Close clears the panel and releases the port.
func (p *Panel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	cerr := p.sendLocked(InsClear)
	p.closed = true
	if err := p.port.Close(); err != nil {
		return err
	}
	return cerr
}
