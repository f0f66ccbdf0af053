package peer

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrClosed    = errors.New("conn_closed")
	ErrContext   = errors.New("context_cancelled")
)
