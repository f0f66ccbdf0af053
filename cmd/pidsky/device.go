package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-pidsky/internal/console"
	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/serial"
)

// Hooks for tests.
var (
	openSerialPort  = serial.Open
	listSerialPorts = serial.ListPorts
)

// openDevice builds the DSKY facade selected by --device. interrupt is
// called when the console sees Ctrl-C in raw mode.
func openDevice(cfg *appConfig, l *slog.Logger, interrupt func()) (dsky.Facade, error) {
	switch cfg.device {
	case "serial":
		port, err := openSerialPort(cfg.serialDev, cfg.baud, cfg.serialReadTO)
		if err != nil {
			return nil, fmt.Errorf("serial open %s: %w", cfg.serialDev, err)
		}
		l.Info("serial_open", "dev", cfg.serialDev, "baud", cfg.baud)
		p := serial.NewPanel(port, serial.WithLogger(l.With("device", "serial")))
		if err := p.Clear(); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("serial panel clear: %w", err)
		}
		return p, nil
	case "null":
		return dsky.NewMemory(), nil
	default:
		c, err := console.Open(os.Stdin, os.Stdout,
			console.WithLogger(l.With("device", "console")),
			console.WithInterrupt(interrupt))
		if err != nil {
			return nil, fmt.Errorf("console: %w", err)
		}
		return c, nil
	}
}

func printPorts(w io.Writer) error {
	ports, err := listSerialPorts()
	if err != nil {
		return fmt.Errorf("list ports: %w", err)
	}
	if len(ports) == 0 {
		_, err = fmt.Fprintln(w, "no serial ports found")
		return err
	}
	for _, p := range ports {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
