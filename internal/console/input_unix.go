//go:build unix

package console

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// fdSource reads a terminal in raw, non-blocking mode.
type fdSource struct {
	fd  int
	old *term.State
}

func openSource(in *os.File) (keySource, bool, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return newReaderSource(in), false, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, false, fmt.Errorf("raw mode: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = term.Restore(fd, old)
		return nil, false, fmt.Errorf("nonblock: %w", err)
	}
	return &fdSource{fd: fd, old: old}, true, nil
}

func (s *fdSource) Poll() ([]byte, error) {
	var buf [32]byte
	n, err := unix.Read(s.fd, buf[:])
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return nil, nil
	case err != nil:
		return nil, err
	case n <= 0:
		return nil, nil
	}
	return append([]byte(nil), buf[:n]...), nil
}

func (s *fdSource) Close() error {
	_ = unix.SetNonblock(s.fd, false)
	return term.Restore(s.fd, s.old)
}
