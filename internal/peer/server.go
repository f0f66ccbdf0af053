// Package peer is the AGC side of the yaAGC socket: a TCP listener that
// accepts DSKY clients, pushes downlink channel writes to them and decodes
// their key uplinks. It backs the agc-mock tool and end-to-end tests.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-pidsky/internal/agc"
	"github.com/kstaniek/go-pidsky/internal/logging"
)

// Handler drives one connection, typically by sending display updates.
// ctx is cancelled when the client goes away or the server stops.
type Handler func(ctx context.Context, c *Conn)

// UplinkFunc receives each update decoded from a client.
type UplinkFunc func(c *Conn, u agc.Update)

// Server owns the TCP listener and the connected DSKY clients.
type Server struct {
	mu       sync.RWMutex
	addr     string
	handler  Handler
	onUplink UplinkFunc

	readDeadline time.Duration
	maxClients   int
	readyOnce    sync.Once
	readyCh      chan struct{}
	listener     net.Listener
	connsMu      sync.Mutex
	conns        map[*Conn]struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
	nextConnID   uint64

	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalDisconnected atomic.Uint64
	totalUplinks      atomic.Uint64
	totalMalformed    atomic.Uint64
}

const defaultReadDeadline = 60 * time.Second

type Option func(*Server)

func NewServer(opts ...Option) *Server {
	s := &Server{
		readDeadline: defaultReadDeadline,
		readyCh:      make(chan struct{}),
		conns:        make(map[*Conn]struct{}),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option  { return func(s *Server) { s.addr = a } }
func WithHandler(h Handler) Option    { return func(s *Server) { s.handler = h } }
func WithUplink(fn UplinkFunc) Option { return func(s *Server) { s.onUplink = fn } }
func WithMaxClients(n int) Option     { return func(s *Server) { s.maxClients = n } }
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReadDeadline bounds each read; an idle client is kept, not dropped.
func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Count returns the number of connected clients.
func (s *Server) Count() int { s.connsMu.Lock(); defer s.connsMu.Unlock(); return len(s.conns) }

// Conns returns a copy of the connected clients.
func (s *Server) Conns() []*Conn {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends one downlink write to every client. It returns the first
// error; failed clients are closed.
func (s *Server) Broadcast(channel uint8, value uint16) error {
	var first error
	for _, c := range s.Conns() {
		if err := c.Send(channel, value); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Serve accepts clients until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListen, err)
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	nc, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		return fmt.Errorf("%w: %v", ErrAccept, err)
	}
	s.totalAccepted.Add(1)
	id := atomic.AddUint64(&s.nextConnID, 1)
	l := s.logger.With("conn_id", id, "remote", nc.RemoteAddr().String())
	if s.maxClients > 0 && s.Count() >= s.maxClients {
		s.totalRejected.Add(1)
		l.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = nc.Close()
		return nil
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	c := newConn(id, nc, l)
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
	l.Info("client_connected")

	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(cctx, c.Close)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()
		s.readLoop(cctx, c)
		c.Close()
		s.connsMu.Lock()
		delete(s.conns, c)
		s.connsMu.Unlock()
		s.totalDisconnected.Add(1)
		l.Info("client_disconnected")
	}()
	if s.handler != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handler(cctx, c)
		}()
	}
	return nil
}

// Shutdown closes the listener and every client, then waits for the
// connection goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range s.Conns() {
		c.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"uplinks", s.totalUplinks.Load(),
			"malformed", s.totalMalformed.Load())
		return nil
	}
}
