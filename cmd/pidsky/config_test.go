package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/go-pidsky/internal/dsky"
	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/kstaniek/go-pidsky/internal/serial"
)

func validConfig() *appConfig {
	return &appConfig{
		host: "localhost", port: 19798, logFormat: "text", logLevel: "info",
		device: "null", serialDev: "/dev/null", baud: 115200, serialReadTO: 10 * time.Millisecond,
		retryDelay: 2 * time.Second, grace: time.Second, hubBuffer: 8, hubPolicy: "drop",
		releaseUplink: "none",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"emptyHost", func(c *appConfig) { c.host = "" }},
		{"badPort", func(c *appConfig) { c.port = 70000 }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badDevice", func(c *appConfig) { c.device = "gpio" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "block" }},
		{"badRelease", func(c *appConfig) { c.releaseUplink = "always" }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.device = "serial"; c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.device = "serial"; c.serialReadTO = 0 }},
		{"badRetry", func(c *appConfig) { c.retryDelay = 0 }},
		{"badGrace", func(c *appConfig) { c.grace = -time.Second }},
		{"badButtons", func(c *appConfig) { c.auxDevice = "/dev/input/event0"; c.auxButtons = "BTN_TRIGGER=X" }},
		{"mdnsWithoutHTTP", func(c *appConfig) { c.mdnsEnable = true }},
	}
	for _, tc := range tests {
		c := validConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.addr() != "localhost:19798" || cfg.device != "console" || cfg.grace != 1500*time.Millisecond || cfg.releaseUplink != "none" {
		t.Fatalf("defaults %+v", cfg)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PIDSKY_PORT", "19697")
	t.Setenv("PIDSKY_SLOW", "true")
	t.Setenv("PIDSKY_RETRY_DELAY", "500ms")
	t.Setenv("PIDSKY_DEVICE", "null")
	cfg, err := loadConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.port != 19697 || !cfg.slow || cfg.retryDelay != 500*time.Millisecond || cfg.device != "null" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	t.Setenv("PIDSKY_PORT", "19697")
	cfg, err := loadConfig([]string{"--port", "20000"}, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.port != 20000 {
		t.Fatalf("expected flag to win, got %d", cfg.port)
	}
}

func TestLoadConfig_BadEnv(t *testing.T) {
	t.Setenv("PIDSKY_HUB_BUFFER", "notint")
	if _, err := loadConfig(nil, io.Discard); err == nil || !strings.Contains(err.Error(), "PIDSKY_HUB_BUFFER") {
		t.Fatalf("expected env error, got %v", err)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pidsky.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig_FileBelowEnvAndFlags(t *testing.T) {
	p := writeFile(t, "host: agc.local\nport: 19000\ngrace: 0s\ndevice: \"null\"\nquiet: true\nlog-level: debug\n")
	t.Setenv("PIDSKY_PORT", "19100")
	cfg, err := loadConfig([]string{"--config", p, "--log-level", "warn"}, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.host != "agc.local" || cfg.grace != 0 || !cfg.quiet || cfg.device != "null" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.port != 19100 {
		t.Fatalf("env should beat file, port %d", cfg.port)
	}
	if cfg.logLevel != "warn" {
		t.Fatalf("flag should beat file, level %s", cfg.logLevel)
	}
}

func TestLoadConfig_FileFromEnv(t *testing.T) {
	p := writeFile(t, "device: \"null\"\nretry-delay: 3s\n")
	t.Setenv("PIDSKY_CONFIG", p)
	cfg, err := loadConfig(nil, io.Discard)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.retryDelay != 3*time.Second {
		t.Fatalf("retry %v", cfg.retryDelay)
	}
}

func TestLoadConfig_FileErrors(t *testing.T) {
	for name, body := range map[string]string{
		"unknownKey": "warp: 9\n",
		"commandKey": "version: true\n",
		"nested":     "host:\n  name: x\n",
		"badValue":   "port: many\n",
		"badYAML":    "port: [1\n",
	} {
		p := writeFile(t, body)
		if _, err := loadConfig([]string{"--config", p}, io.Discard); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadConfig([]string{"--config", "/nonexistent/pidsky.yaml"}, io.Discard); err == nil {
		t.Fatal("missing file: expected error")
	}
}

func TestLoadConfig_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := loadConfig([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) || !strings.Contains(out.String(), "-release-uplink") {
		t.Fatalf("help: %v %q", err, out.String())
	}
}

func TestOpenDevice_Null(t *testing.T) {
	cfg := validConfig()
	dev, err := openDevice(cfg, logging.Discard(), func() {})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := dev.(*dsky.Memory); !ok {
		t.Fatalf("got %T", dev)
	}
}

type nullPort struct{ bytes.Buffer }

func (*nullPort) Close() error { return nil }

func TestOpenDevice_SerialClearsPanel(t *testing.T) {
	port := &nullPort{}
	prev := openSerialPort
	openSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) {
		if name != "/dev/ttyACM0" || baud != 115200 {
			t.Fatalf("open %s %d", name, baud)
		}
		return port, nil
	}
	t.Cleanup(func() { openSerialPort = prev })
	cfg := validConfig()
	cfg.device = "serial"
	cfg.serialDev = "/dev/ttyACM0"
	if _, err := openDevice(cfg, logging.Discard(), func() {}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(port.Bytes(), serial.Codec{}.Encode(serial.InsClear)) {
		t.Fatalf("init frames % X", port.Bytes())
	}
}

func TestOpenDevice_SerialFailure(t *testing.T) {
	prev := openSerialPort
	openSerialPort = func(string, int, time.Duration) (serial.Port, error) { return nil, errors.New("busy") }
	t.Cleanup(func() { openSerialPort = prev })
	cfg := validConfig()
	cfg.device = "serial"
	if _, err := openDevice(cfg, logging.Discard(), func() {}); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrintPorts(t *testing.T) {
	prev := listSerialPorts
	t.Cleanup(func() { listSerialPorts = prev })
	listSerialPorts = func() ([]string, error) { return []string{"/dev/ttyUSB0", "/dev/ttyACM0"}, nil }
	var out bytes.Buffer
	if err := printPorts(&out); err != nil || out.String() != "/dev/ttyUSB0\n/dev/ttyACM0\n" {
		t.Fatalf("got %q %v", out.String(), err)
	}
	listSerialPorts = func() ([]string, error) { return nil, nil }
	out.Reset()
	_ = printPorts(&out)
	if !strings.Contains(out.String(), "no serial ports") {
		t.Fatalf("got %q", out.String())
	}
}

func TestListenPort(t *testing.T) {
	if p, err := listenPort(":9100"); err != nil || p != 9100 {
		t.Fatalf("got %d %v", p, err)
	}
	if _, err := listenPort("9100"); err == nil {
		t.Fatal("expected error")
	}
}
