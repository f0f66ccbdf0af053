package session

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"
)

// deadlinePoll bounds a read on connections without raw fd access.
const deadlinePoll = time.Millisecond

// pollReader reads whatever is available without blocking. Read returns
// (0, nil) when no data is pending and io.EOF on an orderly close.
type pollReader struct {
	conn net.Conn
	raw  syscall.RawConn
}

func newPollReader(c net.Conn) *pollReader {
	p := &pollReader{conn: c}
	if !rawSupported {
		return p
	}
	if sc, ok := c.(syscall.Conn); ok {
		if rc, err := sc.SyscallConn(); err == nil {
			p.raw = rc
		}
	}
	return p
}

func (p *pollReader) Read(b []byte) (int, error) {
	if p.raw != nil {
		return rawRead(p.raw, b)
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(deadlinePoll)); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(b)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}
