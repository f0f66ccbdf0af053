// Package session runs the DSKY control loop: it keeps a connection to the
// AGC simulator, routes downlink channel writes to the device, and polls the
// keypad for uplink key events.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kstaniek/go-pidsky/internal/agc"
	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/keypad"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/metrics"
	"github.com/kstaniek/go-pidsky/internal/router"
)

const (
	DefaultPeriod      = 50 * time.Millisecond
	SlowPeriod         = 250 * time.Millisecond
	DefaultRetryDelay  = 2 * time.Second
	DefaultGrace       = 1500 * time.Millisecond
	DefaultDialTimeout = 5 * time.Second

	readBufSize = 1024
)

// Dialer opens the stream to the AGC. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.log = l } }
func WithDialer(d Dialer) Option       { return func(s *Session) { s.dialer = d } }
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}
func WithReleasePolicy(p keypad.ReleasePolicy) Option {
	return func(s *Session) { s.policy = p }
}

func WithPeriod(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.period = d
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.retry = d
		}
	}
}

// WithGrace sets how long key polling is suppressed after a connect.
// Zero disables the grace period.
func WithGrace(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithStateObserver registers fn to be called on every state change.
func WithStateObserver(fn func(State)) Option { return func(s *Session) { s.observer = fn } }

// WithKeyObserver registers fn to be called with every debounced key event.
func WithKeyObserver(fn func(keypad.Event)) Option { return func(s *Session) { s.onKey = fn } }

// WithRouterOptions passes options through to the channel router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(s *Session) { s.routerOpts = append(s.routerOpts, opts...) }
}

// Session owns the connection, the router and the debouncer. Run must be
// called at most once; Send and SendKey are safe from other goroutines.
type Session struct {
	addr        string
	dev         dsky.Facade
	log         *slog.Logger
	dialer      Dialer
	now         func() time.Time
	period      time.Duration
	retry       time.Duration
	grace       time.Duration
	dialTimeout time.Duration
	policy      keypad.ReleasePolicy
	observer    func(State)
	onKey       func(keypad.Event)
	routerOpts  []router.Option

	codec  agc.Codec
	router *router.Router
	keys   *keypad.Debouncer

	state atomic.Int32

	sendMu  sync.Mutex
	conn    net.Conn // guarded by sendMu
	sendErr error    // first failure on the send path, guarded by sendMu
}

// New returns a Session that dials addr and drives dev.
func New(addr string, dev dsky.Facade, opts ...Option) *Session {
	s := &Session{
		addr:        addr,
		dev:         dev,
		log:         logging.L(),
		now:         time.Now,
		period:      DefaultPeriod,
		retry:       DefaultRetryDelay,
		grace:       DefaultGrace,
		dialTimeout: DefaultDialTimeout,
		policy:      keypad.ReleaseNone,
	}
	for _, o := range opts {
		o(s)
	}
	if s.dialer == nil {
		s.dialer = &net.Dialer{Timeout: s.dialTimeout}
	}
	s.codec = agc.Codec{OnReject: func(w [agc.FrameSize]byte) {
		s.log.Debug("frame_rejected", "window", fmt.Sprintf("% X", w))
	}}
	ropts := append([]router.Option{router.WithLogger(s.log), router.WithClock(s.now)}, s.routerOpts...)
	s.router = router.New(dev, ropts...)
	s.keys = keypad.NewDebouncer(0)
	metrics.SetConnectionState(int(Disconnected))
	return s
}

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Connected reports whether the AGC stream is up.
func (s *Session) Connected() bool { return s.State() == Connected }

func (s *Session) setState(st State) {
	if State(s.state.Swap(int32(st))) == st {
		return
	}
	metrics.SetConnectionState(int(st))
	if s.observer != nil {
		s.observer(st)
	}
}

// Run connects, serves and reconnects until ctx is done or the device
// fails. It returns nil on cancellation and an error wrapping ErrDevice on
// a device failure. The device is left cleared in both cases.
func (s *Session) Run(ctx context.Context) error {
	if err := s.dev.Clear(); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrDevice, err)
	}
	for {
		if ctx.Err() != nil {
			return s.stop(nil)
		}
		s.setState(Connecting)
		conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			if ctx.Err() != nil {
				return s.stop(nil)
			}
			metrics.IncError(mapErrToMetric(ErrDial))
			s.log.Warn("agc_dial_failed", "addr", s.addr, "error", err, "retry", s.retry)
			s.setState(Disconnected)
			if !s.wait(ctx, s.retry) {
				return s.stop(nil)
			}
			continue
		}
		err = s.serve(ctx, conn)
		s.disconnect()
		switch {
		case ctx.Err() != nil:
			return s.stop(nil)
		case errors.Is(err, ErrDevice):
			metrics.IncError(mapErrToMetric(err))
			return s.stop(err)
		case errors.Is(err, ErrRemoteClosed):
			s.log.Info("agc_closed", "addr", s.addr)
		default:
			metrics.IncError(mapErrToMetric(err))
			s.log.Warn("agc_disconnected", "addr", s.addr, "error", err)
		}
		if err := s.resetDevice(); err != nil {
			return s.stop(err)
		}
		if !s.wait(ctx, s.retry) {
			return s.stop(nil)
		}
	}
}

// serve runs the loop for one connection and returns why it ended.
func (s *Session) serve(ctx context.Context, conn net.Conn) error {
	l := s.log.With("conn_id", uuid.NewString(), "remote", conn.RemoteAddr().String())
	s.sendMu.Lock()
	s.conn = conn
	s.sendErr = nil
	s.sendMu.Unlock()
	s.setState(Connected)
	metrics.IncConnect()
	l.Info("agc_connected")

	// The first matrix read after power-up or reconnect is unreliable.
	if _, err := s.dev.ReadKeys(); err != nil {
		return fmt.Errorf("%w: read keys: %v", ErrDevice, err)
	}

	rd := newPollReader(conn)
	buf := make([]byte, readBufSize)
	var acc bytes.Buffer
	keysFrom := s.now().Add(s.grace)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.State() != Connected {
			return s.takeSendErr()
		}
		busy := false

		n, rerr := rd.Read(buf)
		if n > 0 {
			busy = true
			acc.Write(buf[:n])
			var herr error
			s.codec.DecodeStream(&acc, func(f agc.Frame) {
				if herr != nil {
					return
				}
				if f.Kind == agc.KindMask {
					l.Debug("mask_frame_ignored", "channel", fmt.Sprintf("%o", f.Channel))
					return
				}
				herr = s.router.Handle(f.Event())
			})
			if herr != nil {
				return fmt.Errorf("%w: %v", ErrDevice, herr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return ErrRemoteClosed
			}
			if s.State() != Connected {
				return s.takeSendErr()
			}
			return fmt.Errorf("%w: %v", ErrConnRead, rerr)
		}

		now := s.now()
		if err := s.router.Tick(now); err != nil {
			return fmt.Errorf("%w: %v", ErrDevice, err)
		}
		if !now.Before(keysFrom) {
			sample, err := s.dev.ReadKeys()
			if err != nil {
				return fmt.Errorf("%w: read keys: %v", ErrDevice, err)
			}
			if ev, ok := s.keys.Poll(sample, now); ok {
				busy = true
				l.Info("key_event", "event", ev.String())
				if err := s.dispatchKey(ev); err != nil {
					return err
				}
			}
		}

		if !busy && !s.wait(ctx, s.period) {
			return nil
		}
	}
}

// dispatchKey counts, observes and uplinks a debounced key event.
func (s *Session) dispatchKey(ev keypad.Event) error {
	metrics.IncKeyEvent(ev.Kind.String())
	if s.onKey != nil {
		s.onKey(ev)
	}
	for _, u := range keypad.Uplink(ev, s.policy) {
		if err := s.Send(u); err != nil {
			return err
		}
	}
	return nil
}

// SendKey uplinks ev as if it came from the keypad. Used by auxiliary input
// sources; the debouncer is bypassed.
func (s *Session) SendKey(ev keypad.Event) error {
	if !s.Connected() {
		return ErrNotConnected
	}
	s.log.Info("key_event", "event", ev.String(), "source", "aux")
	return s.dispatchKey(ev)
}

// Send writes one update as a single Write. A failed or short write closes
// the connection; the loop notices and reconnects.
func (s *Session) Send(u agc.Update) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.conn == nil || s.State() != Connected {
		return ErrNotConnected
	}
	b := u.Bytes()
	n, err := s.conn.Write(b)
	switch {
	case err != nil:
		return s.failLocked(fmt.Errorf("%w: %v", ErrConnWrite, err))
	case n != len(b):
		return s.failLocked(fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(b)))
	}
	metrics.IncTx()
	s.log.Debug("agc_uplink", "channel", fmt.Sprintf("%o", u.Channel), "value", fmt.Sprintf("%o", u.Value), "mask", fmt.Sprintf("%o", u.Mask))
	return nil
}

func (s *Session) failLocked(err error) error {
	if s.sendErr == nil {
		s.sendErr = err
	}
	_ = s.conn.Close()
	s.setState(Disconnected)
	return err
}

func (s *Session) takeSendErr() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	return ErrConnWrite
}

func (s *Session) disconnect() {
	s.sendMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.sendMu.Unlock()
	s.setState(Disconnected)
}

// resetDevice returns the device and the local models to the cleared state.
func (s *Session) resetDevice() error {
	if err := s.dev.Clear(); err != nil {
		return fmt.Errorf("%w: clear: %v", ErrDevice, err)
	}
	s.router.Reset()
	s.keys.Reset()
	return nil
}

// stop leaves the device cleared and returns err.
func (s *Session) stop(err error) error {
	s.disconnect()
	if cerr := s.dev.Clear(); cerr != nil {
		s.log.Warn("device_clear_failed", "error", cerr)
	}
	s.router.Reset()
	s.keys.Reset()
	if err != nil {
		s.log.Error("session_stopped", "error", err)
	}
	return err
}

func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
