//go:build !unix

package session

import (
	"errors"
	"syscall"
)

const rawSupported = false

func rawRead(syscall.RawConn, []byte) (int, error) {
	return 0, errors.New("raw read not supported")
}
