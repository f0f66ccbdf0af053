package serial

import (
	"time"

	bugst "go.bug.st/serial"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// ListPorts returns the serial devices present on the host.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}
