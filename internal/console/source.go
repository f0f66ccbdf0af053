package console

import "io"

// keySource yields keyboard bytes without blocking.
type keySource interface {
	Poll() ([]byte, error)
	Close() error
}

// readerSource pumps an arbitrary reader through a goroutine. Used for
// pipes, tests and platforms without raw fd access.
type readerSource struct {
	ch   chan byte
	done chan struct{}
}

func newReaderSource(r io.Reader) *readerSource {
	s := &readerSource{ch: make(chan byte, 64), done: make(chan struct{})}
	go func() {
		buf := make([]byte, 16)
		for {
			n, err := r.Read(buf)
			for _, b := range buf[:n] {
				select {
				case s.ch <- b:
				case <-s.done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return s
}

func (s *readerSource) Poll() ([]byte, error) {
	var out []byte
	for {
		select {
		case b := <-s.ch:
			out = append(out, b)
		default:
			return out, nil
		}
	}
}

func (s *readerSource) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}
