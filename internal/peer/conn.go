package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kstaniek/go-pidsky/internal/agc"
)

const writeTimeout = 2 * time.Second

// Conn is one connected DSKY client.
type Conn struct {
	id     uint64
	nc     net.Conn
	log    *slog.Logger
	wmu    sync.Mutex
	once   sync.Once
	closed chan struct{}
}

func newConn(id uint64, nc net.Conn, l *slog.Logger) *Conn {
	return &Conn{id: id, nc: nc, log: l, closed: make(chan struct{})}
}

func (c *Conn) ID() uint64            { return c.id }
func (c *Conn) Log() *slog.Logger     { return c.log }
func (c *Conn) Done() <-chan struct{} { return c.closed }
func (c *Conn) RemoteAddr() net.Addr  { return c.nc.RemoteAddr() }

// Close drops the connection (idempotent).
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.nc.Close()
	})
}

// Send writes one downlink channel value as a single data frame.
func (c *Conn) Send(channel uint8, value uint16) error {
	f := agc.EncodeFrame(agc.Frame{Kind: agc.KindData, Channel: channel, Payload: value})
	return c.Write(f[:])
}

// Write sends raw bytes. Any failure closes the connection.
func (c *Conn) Write(b []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.nc.Write(b); err != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrConnWrite, err)
	}
	return nil
}

// readLoop decodes uplinks until the client goes away.
func (s *Server) readLoop(ctx context.Context, c *Conn) {
	var (
		buf   bytes.Buffer
		pair  agc.Pairer
		chunk = make([]byte, 1024)
	)
	codec := agc.Codec{OnReject: func(w [agc.FrameSize]byte) {
		s.totalMalformed.Add(1)
		c.log.Debug("frame_rejected", "window", fmt.Sprintf("% X", w[:]))
	}}
	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(s.readDeadline))
		n, err := c.nc.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			codec.DecodeStream(&buf, func(f agc.Frame) {
				u, ok := pair.Push(f)
				if !ok {
					return
				}
				s.totalUplinks.Add(1)
				if s.onUplink != nil {
					s.onUplink(c, u)
				}
			})
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.As(err, &ne) && ne.Timeout():
				if ctx.Err() != nil {
					return
				}
				continue
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				c.log.Warn("conn_read_error", "error", fmt.Errorf("%w: %v", ErrConnRead, err))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
