// Command agc-mock stands in for yaAGC: it accepts DSKY clients, plays a
// display script to each and logs the keys they send back.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kstaniek/go-pidsky/internal/agc"
	"github.com/kstaniek/go-pidsky/internal/keypad"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/peer"
)

type mockConfig struct {
	listen     string
	script     string
	loop       bool
	logFormat  string
	logLevel   string
	maxClients int
}

func parseFlags(args []string, stderr io.Writer) (*mockConfig, error) {
	fs := flag.NewFlagSet("agc-mock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg := &mockConfig{}
	fs.StringVar(&cfg.listen, "listen", "localhost:19798", "TCP listen address")
	fs.StringVar(&cfg.script, "script", "", "Display script file (default: built-in lamp cycle)")
	fs.BoolVar(&cfg.loop, "loop", false, "Repeat the script until the client disconnects")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous DSKY clients (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch cfg.logFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log-format: %s", cfg.logFormat)
	}
	return cfg, nil
}

func loadScript(path string) ([]step, error) {
	if path == "" {
		return parseScript(strings.NewReader(demoScript))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseScript(bytes.NewReader(b))
}

// keyNames reverses the channel 015 keycode table.
var keyNames = func() map[uint16]string {
	m := map[uint16]string{}
	for _, c := range []byte("0123456789+-VNRCK\n") {
		if v, ok := keypad.Keycode(c); ok {
			m[v] = keypad.KeyName(c)
		}
	}
	return m
}()

// describeUplink names a key uplink for the log.
func describeUplink(u agc.Update) string {
	switch u.Channel {
	case keypad.ChanKeys:
		if n, ok := keyNames[u.Value&0o37]; ok {
			return n
		}
	case keypad.ChanPro:
		if u.Value&0o20000 == 0 {
			return "PRO pressed"
		}
		return "PRO released"
	}
	return fmt.Sprintf("channel %o value %o", u.Channel, u.Value)
}

func scriptHandler(steps []step, loop bool) peer.Handler {
	return func(ctx context.Context, c *peer.Conn) {
		r := newRunner(c, c.Log())
		for {
			err := r.run(ctx, steps)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				if errors.Is(err, peer.ErrClosed) || errors.Is(err, peer.ErrConnWrite) {
					return
				}
				c.Log().Error("script_error", "error", err)
				return
			}
			if !loop {
				c.Log().Info("script_complete")
				return
			}
		}
	}
}

func run(ctx context.Context, cfg *mockConfig, l *slog.Logger) error {
	steps, err := loadScript(cfg.script)
	if err != nil {
		return fmt.Errorf("script: %w", err)
	}
	l.Info("script_loaded", "steps", len(steps), "file", cfg.script, "loop", cfg.loop)
	srv := peer.NewServer(
		peer.WithListenAddr(cfg.listen),
		peer.WithLogger(l),
		peer.WithMaxClients(cfg.maxClients),
		peer.WithHandler(scriptHandler(steps, cfg.loop)),
		peer.WithUplink(func(c *peer.Conn, u agc.Update) {
			c.Log().Info("key_input", "key", describeUplink(u),
				"channel", fmt.Sprintf("%o", u.Channel), "value", fmt.Sprintf("%o", u.Value))
		}),
	)
	err = srv.Serve(ctx)
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	return err
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	l := logging.New(cfg.logFormat, logging.ParseLevel(cfg.logLevel, false), os.Stderr).With("app", "agc-mock")
	logging.Set(l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, l); err != nil {
		l.Error("agc_mock_error", "error", err)
		os.Exit(1)
	}
	l.Info("shutdown")
}
