package auxinput

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/kstaniek/go-pidsky/internal/keypad"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/metrics"
	"github.com/kstaniek/go-pidsky/internal/session"
)

const (
	backoffMin = 100 * time.Millisecond
	backoffMax = 5 * time.Second
)

// Sender accepts key events for uplink; *session.Session satisfies it.
type Sender interface {
	SendKey(ev keypad.Event) error
}

// Opener opens the input device.
type Opener func(path string) (io.ReadCloser, error)

// Reader forwards mapped button presses from one evdev device.
type Reader struct {
	path    string
	buttons ButtonMap
	sender  Sender
	open    Opener
	sleep   func(context.Context, time.Duration)
	log     *slog.Logger
}

type Option func(*Reader)

func WithLogger(l *slog.Logger) Option { return func(r *Reader) { r.log = l } }

// WithOpener replaces os.Open; tests feed canned events through it.
func WithOpener(o Opener) Option { return func(r *Reader) { r.open = o } }

// New builds a reader; a nil button map selects DefaultButtons.
func New(path string, buttons ButtonMap, s Sender, opts ...Option) *Reader {
	if buttons == nil {
		buttons = DefaultButtons()
	}
	r := &Reader{
		path:    path,
		buttons: buttons,
		sender:  s,
		open:    func(p string) (io.ReadCloser, error) { return os.Open(p) },
		sleep:   sleepCtx,
		log:     logging.L(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("aux", path)
	return r
}

// Run reads until ctx is done, reopening the device with backoff when it
// fails or disappears. It returns nil on cancellation.
func (r *Reader) Run(ctx context.Context) error {
	backoff := backoffMin
	for ctx.Err() == nil {
		f, err := r.open(r.path)
		if err != nil {
			metrics.IncError(metrics.ErrAuxInput)
			r.log.Warn("aux_open_failed", "error", err, "backoff", backoff)
			r.sleep(ctx, backoff)
			backoff = min(backoff*2, backoffMax)
			continue
		}
		r.log.Info("aux_open", "buttons", r.buttons.String())
		n, err := r.readAll(ctx, f)
		if ctx.Err() != nil {
			return nil
		}
		if n > 0 {
			backoff = backoffMin
		}
		metrics.IncError(metrics.ErrAuxInput)
		r.log.Warn("aux_read_error", "error", err, "events", n, "backoff", backoff)
		r.sleep(ctx, backoff)
		backoff = min(backoff*2, backoffMax)
	}
	return nil
}

// readAll consumes records until an error; it closes f.
func (r *Reader) readAll(ctx context.Context, f io.ReadCloser) (int, error) {
	stop := context.AfterFunc(ctx, func() { _ = f.Close() })
	defer func() {
		if stop() {
			_ = f.Close()
		}
	}()
	buf := make([]byte, EventSize)
	n := 0
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrShortEvent
			}
			return n, err
		}
		ev, _ := Decode(buf)
		n++
		r.Handle(ev)
	}
}

// Handle maps one event and forwards it. Non-key events, autorepeat and
// unmapped buttons are ignored.
func (r *Reader) Handle(ev Event) {
	if ev.Type != EvKey || ev.Value == KeyRepeat {
		return
	}
	c, ok := r.buttons[ev.Code]
	if !ok {
		r.log.Debug("aux_unmapped", "code", ev.Code, "value", ev.Value)
		return
	}
	var kev keypad.Event
	switch {
	case ev.Value == KeyDown:
		kev = keypad.Event{Kind: keypad.Press, Key: c}
	case c == keypad.KeyPro:
		kev = keypad.Event{Kind: keypad.ProAutoRelease}
	default:
		kev = keypad.Event{Kind: keypad.Release}
	}
	if err := r.sender.SendKey(kev); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			r.log.Debug("aux_key_dropped", "event", kev.String())
			return
		}
		r.log.Warn("aux_send_failed", "event", kev.String(), "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
