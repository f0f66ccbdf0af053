package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_pidsky._tcp"

// listenPort extracts the port from host:port or :port.
func listenPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("bad port in %q", addr)
	}
	return n, nil
}

func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, _ := os.Hostname()
	return "pidsky-" + host
}

// startMDNS advertises the status endpoint and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *appConfig) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	port, err := listenPort(cfg.metricsAddr)
	if err != nil {
		return nil, fmt.Errorf("mdns: %w", err)
	}
	meta := []string{
		"device=" + cfg.device,
		"agc=" + cfg.addr(),
		"path=/state",
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(mdnsInstance(cfg), mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}
