package session

import (
	"errors"

	"github.com/kstaniek/go-pidsky/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrDial         = errors.New("agc_dial")
	ErrRemoteClosed = errors.New("agc_closed")
	ErrConnRead     = errors.New("agc_read")
	ErrConnWrite    = errors.New("agc_write")
	ErrShortWrite   = errors.New("agc_short_write")
	ErrNotConnected = errors.New("not_connected")
	ErrDevice       = errors.New("device")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrDial):
		return metrics.ErrDial
	case errors.Is(err, ErrConnRead):
		return metrics.ErrConnRead
	case errors.Is(err, ErrConnWrite), errors.Is(err, ErrShortWrite):
		return metrics.ErrConnWrite
	case errors.Is(err, ErrDevice):
		return metrics.ErrDevice
	default:
		return "other"
	}
}
