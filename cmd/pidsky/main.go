// Command pidsky connects a DSKY (console, serial panel or headless) to a
// yaAGC simulator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-pidsky/internal/auxinput"
	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/hub"
	"github.com/kstaniek/go-pidsky/internal/keypad"
	"github.com/kstaniek/go-pidsky/internal/metrics"
	"github.com/kstaniek/go-pidsky/internal/session"
	"github.com/kstaniek/go-pidsky/internal/status"
)

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Printf("pidsky %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg.listPorts {
		if err := printPorts(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel, cfg.quiet)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, l, stop); err != nil {
		l.Error("pidsky_error", "error", err)
		os.Exit(1)
	}
	l.Info("shutdown")
}

func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	p, err := hub.ParsePolicy(cfg.hubPolicy)
	if err != nil {
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", "drop")
	}
	h.Policy = p
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)
	return h
}

func sessionOptions(cfg *appConfig, l *slog.Logger, m *status.Mirror) []session.Option {
	policy, _ := keypad.ParseReleasePolicy(cfg.releaseUplink)
	period := session.DefaultPeriod
	if cfg.slow {
		period = session.SlowPeriod
	}
	return []session.Option{
		session.WithLogger(l),
		session.WithPeriod(period),
		session.WithRetryDelay(cfg.retryDelay),
		session.WithGrace(cfg.grace),
		session.WithReleasePolicy(policy),
		session.WithStateObserver(func(s session.State) { m.SetState(s.String()) }),
		session.WithKeyObserver(m.KeyEvent),
	}
}

// run wires the device, session, aux input and status server and blocks
// until ctx is done or a component fails. cancel is invoked when the
// console asks to quit.
func run(ctx context.Context, cfg *appConfig, l *slog.Logger, cancel func()) error {
	h := initHub(cfg, l)
	dev, err := openDevice(cfg, l, cancel)
	if err != nil {
		return err
	}
	mirror := status.NewMirror(dev, h)
	defer func() {
		if err := mirror.Close(); err != nil && !errors.Is(err, dsky.ErrClosed) {
			l.Warn("device_close_error", "error", err)
		}
	}()

	sess := session.New(cfg.addr(), mirror, sessionOptions(cfg, l, mirror)...)
	metrics.SetReadinessFunc(sess.Connected)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.Run(gctx); err != nil {
			return fmt.Errorf("session: %w", err)
		}
		// a clean session exit ends the program
		return context.Canceled
	})
	if cfg.auxDevice != "" {
		buttons, err := auxinput.ParseButtons(cfg.auxButtons)
		if err != nil {
			return err
		}
		aux := auxinput.New(cfg.auxDevice, buttons, sess, auxinput.WithLogger(l))
		g.Go(func() error { return aux.Run(gctx) })
	}
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srv := metrics.StartHTTP(cfg.metricsAddr, status.Handlers(mirror, h))
		g.Go(func() error {
			<-gctx.Done()
			sctx, c := context.WithTimeout(context.Background(), 2*time.Second)
			defer c()
			return srv.Shutdown(sctx)
		})
		cleanupMDNS, err := startMDNS(gctx, cfg)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else if cfg.mdnsEnable {
			l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg))
			defer cleanupMDNS()
		}
	}
	g.Go(func() error { return runMetricsLogger(gctx, cfg.logMetricsEvery, l) })

	l.Info("pidsky_start", "agc", cfg.addr(), "device", cfg.device, "slow", cfg.slow)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
