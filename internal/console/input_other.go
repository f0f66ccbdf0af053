//go:build !unix

package console

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// rawSource keeps the terminal raw and reads it through a goroutine.
type rawSource struct {
	*readerSource
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
	return &rawSource{readerSource: newReaderSource(in), fd: fd, old: old}, true, nil
}

func (s *rawSource) Close() error {
	_ = s.readerSource.Close()
	return term.Restore(s.fd, s.old)
}
