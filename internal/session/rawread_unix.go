//go:build unix

package session

import (
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

const rawSupported = true

// rawRead performs one read(2) on the already non-blocking socket without
// parking in the runtime poller.
func rawRead(rc syscall.RawConn, b []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	if err := rc.Read(func(fd uintptr) bool {
		n, rerr = unix.Read(int(fd), b)
		return true
	}); err != nil {
		return 0, err
	}
	switch {
	case rerr == unix.EAGAIN || rerr == unix.EINTR:
		return 0, nil
	case rerr != nil:
		return 0, rerr
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}
