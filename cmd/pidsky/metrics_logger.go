package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/kstaniek/go-pidsky/internal/metrics"
)

// runMetricsLogger periodically logs counters for setups without a
// Prometheus scraper. It returns when ctx is done.
func runMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			snap := metrics.Snap()
			l.Info("metrics_snapshot",
				"rx_frames", snap.RxFrames,
				"tx_updates", snap.TxUpdates,
				"malformed", snap.Malformed,
				"resync_bytes", snap.ResyncBytes,
				"key_events", snap.KeyEvents,
				"device_writes", snap.DeviceWrites,
				"suppressed", snap.Suppressed,
				"connects", snap.Connects,
				"status_clients", snap.StatusClients,
				"status_drops", snap.StatusDrops,
				"errors", snap.Errors,
			)
		case <-ctx.Done():
			return nil
		}
	}
}
