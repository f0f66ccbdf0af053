// Package console is a terminal DSKY: it draws the display and lamps on a
// terminal and turns keyboard input into key matrix samples.
package console

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/keypad"
	"github.com/kstaniek/go-pidsky/internal/logging"
)

// DefaultHoldPolls is how many polls a typed key stays down.
const DefaultHoldPolls = 2

const clearScreen = "\x1b[H\x1b[2J"

type Option func(*Console)

func WithLogger(l *slog.Logger) Option { return func(c *Console) { c.log = l } }

// WithHoldPolls sets how many ReadKeys calls report a typed key as held.
func WithHoldPolls(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.holdPolls = n
		}
	}
}

// WithInterrupt sets the callback run when Ctrl-C is typed in raw mode.
func WithInterrupt(fn func()) Option { return func(c *Console) { c.onInterrupt = fn } }

// Console implements dsky.Facade on a terminal. Safe for concurrent use.
type Console struct {
	mu          sync.Mutex
	log         *slog.Logger
	out         io.Writer
	src         keySource
	raw         bool
	holdPolls   int
	onInterrupt func()
	styles      styles

	panel   panel
	queue   []byte
	cur     dsky.Sample
	left    int
	drawn   string
	closed  bool
	srcErrd bool
}

// Open uses in as the keyboard, switching it to raw mode when it is a
// terminal, and draws on out.
func Open(in *os.File, out io.Writer, opts ...Option) (*Console, error) {
	src, raw, err := openSource(in)
	if err != nil {
		return nil, err
	}
	c := newConsole(src, out, opts...)
	c.raw = raw
	c.redraw()
	return c, nil
}

// New builds a console over an arbitrary reader, without terminal control.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := newConsole(newReaderSource(in), out, opts...)
	c.redraw()
	return c
}

func newConsole(src keySource, out io.Writer, opts ...Option) *Console {
	c := &Console{
		log:       logging.L(),
		out:       out,
		src:       src,
		holdPolls: DefaultHoldPolls,
		styles:    newStyles(out),
		panel:     panel{regs: make(map[dsky.Register]uint8)},
	}
	for _, o := range opts {
		o(c)
	}
	c.blank()
	return c
}

func (c *Console) blank() {
	for i := range c.panel.digits {
		c.panel.digits[i] = ' '
	}
	for _, r := range dsky.Registers {
		c.panel.regs[r] = 0
	}
}

func (c *Console) SetDigit(f dsky.Field, glyph byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dsky.ErrClosed
	}
	if f < dsky.NumFields {
		c.panel.digits[f] = glyph
	}
	c.redrawLocked()
	return nil
}

func (c *Console) SetRegister(r dsky.Register, value uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dsky.ErrClosed
	}
	c.panel.regs[r] = value
	c.redrawLocked()
	return nil
}

func (c *Console) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dsky.ErrClosed
	}
	c.blank()
	c.redrawLocked()
	return nil
}

// ReadKeys drains pending keyboard input and reports the synthesized
// matrix. A typed key is held for holdPolls polls and followed by one idle
// poll, so repeated keys produce separate presses.
func (c *Console) ReadKeys() (dsky.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dsky.Sample{}, dsky.ErrClosed
	}
	in, err := c.src.Poll()
	if err != nil && !c.srcErrd {
		// keyboard gone; keep displaying
		c.srcErrd = true
		c.log.Warn("console_input_error", "error", err)
	}
	c.enqueue(in)

	if c.left > 0 {
		c.left--
		return c.cur, nil
	}
	if !c.cur.IsZero() {
		c.cur = dsky.Sample{}
		return c.cur, nil
	}
	for len(c.queue) > 0 {
		k := c.queue[0]
		c.queue = c.queue[1:]
		if s, ok := keypad.Lookup(k); ok {
			c.cur = s
			c.left = c.holdPolls - 1
			return c.cur, nil
		}
	}
	return dsky.Sample{}, nil
}

func (c *Console) enqueue(in []byte) {
	for _, b := range in {
		if b == ctrlC && c.onInterrupt != nil {
			go c.onInterrupt()
			continue
		}
		if k, ok := MapKey(b); ok {
			c.queue = append(c.queue, k)
		}
	}
}

// Close blanks the panel and restores the terminal.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.blank()
	c.redrawLocked()
	c.closed = true
	return c.src.Close()
}

// Snapshot returns the rendered panel as plain lines.
func (c *Console) Snapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawn
}

func (c *Console) redraw() {
	c.mu.Lock()
	c.redrawLocked()
	c.mu.Unlock()
}

func (c *Console) redrawLocked() {
	s := render(c.styles, &c.panel)
	if s == c.drawn {
		return
	}
	c.drawn = s
	if c.raw {
		s = clearScreen + strings.ReplaceAll(s, "\n", "\r\n") + "\r\n"
	} else {
		s += "\n"
	}
	if _, err := io.WriteString(c.out, s); err != nil {
		c.log.Debug("console_draw_failed", "error", err)
	}
}
