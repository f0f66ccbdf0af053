package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/kstaniek/go-pidsky/internal/auxinput"
	"github.com/kstaniek/go-pidsky/internal/hub"
	"github.com/kstaniek/go-pidsky/internal/keypad"
)

const envPrefix = "PIDSKY_"

type appConfig struct {
	host            string
	port            int
	slow            bool
	quiet           bool
	logFormat       string
	logLevel        string
	device          string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	retryDelay      time.Duration
	grace           time.Duration
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	releaseUplink   string
	auxDevice       string
	auxButtons      string
	configFile      string
	listPorts       bool
	showVersion     bool
}

func (c *appConfig) addr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

func newFlagSet(cfg *appConfig, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("pidsky", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.host, "host", "localhost", "yaAGC host")
	fs.IntVar(&cfg.port, "port", 19798, "yaAGC DSKY port")
	fs.BoolVar(&cfg.slow, "slow", false, "Poll every 250ms instead of 50ms (slow hosts)")
	fs.BoolVar(&cfg.quiet, "quiet", false, "Suppress operational logging (warnings and errors only)")
	fs.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.device, "device", "console", "DSKY device: console|serial|null")
	fs.StringVar(&cfg.serialDev, "serial", "/dev/ttyUSB0", "Serial panel device path (when --device=serial)")
	fs.IntVar(&cfg.baud, "baud", 115200, "Serial panel baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 20*time.Millisecond, "Serial read timeout")
	fs.DurationVar(&cfg.retryDelay, "retry-delay", 2*time.Second, "Delay between connection attempts")
	fs.DurationVar(&cfg.grace, "grace", 1500*time.Millisecond, "Ignore the keypad this long after connecting")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics and status HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", hub.DefaultOutBufSize, "Per-subscriber status buffer (messages)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", "drop", "Status backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the status endpoint over mDNS")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default pidsky-<hostname>)")
	fs.StringVar(&cfg.releaseUplink, "release-uplink", string(keypad.ReleaseNone), "What a key release sends: none|keyrel")
	fs.StringVar(&cfg.auxDevice, "aux-device", "", "evdev device for auxiliary buttons (e.g., /dev/input/event3); empty disables")
	fs.StringVar(&cfg.auxButtons, "aux-buttons", "", "Button map, e.g. BTN_TRIGGER=ENTR,BTN_THUMB=PRO (default joystick layout)")
	fs.StringVar(&cfg.configFile, "config", "", "YAML config file; keys are flag names")
	fs.BoolVar(&cfg.listPorts, "list-ports", false, "List serial ports and exit")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	return fs
}

// commandOnly flags are never read from the environment or a file.
var commandOnly = map[string]struct{}{"config": {}, "list-ports": {}, "version": {}}

// loadConfig resolves configuration with precedence flag > env > file >
// default.
func loadConfig(args []string, out io.Writer) (*appConfig, error) {
	cfg := &appConfig{}
	fs := newFlagSet(cfg, out)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if cfg.showVersion || cfg.listPorts {
		return cfg, nil
	}

	if _, ok := set["config"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "CONFIG"); ok {
			cfg.configFile = strings.TrimSpace(v)
		}
	}
	var fromFile map[string]string
	if cfg.configFile != "" {
		var err error
		if fromFile, err = readConfigFile(cfg.configFile); err != nil {
			return nil, err
		}
	}
	if err := applyEnvOverrides(fs, set, fromFile); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile loads a flat YAML mapping of flag names to values.
func readConfigFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: %q must be a scalar", path, k)
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides fills every flag that was not set on the command line,
// first from the config file and then from PIDSKY_* variables. Empty
// environment values are ignored.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]struct{}, fromFile map[string]string) error {
	keys := make([]string, 0, len(fromFile))
	for k := range fromFile {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, cmd := commandOnly[k]; cmd || fs.Lookup(k) == nil {
			return fmt.Errorf("config file: unknown key %q", k)
		}
		if _, ok := set[k]; ok {
			continue
		}
		if err := fs.Set(k, fromFile[k]); err != nil {
			return fmt.Errorf("config file: invalid %s: %w", k, err)
		}
	}
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if _, cmd := commandOnly[f.Name]; cmd {
			return
		}
		if _, ok := set[f.Name]; ok {
			return
		}
		v, ok := os.LookupEnv(envName(f.Name))
		if v = strings.TrimSpace(v); !ok || v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envName(f.Name), err)
		}
	})
	return firstErr
}

// validate performs semantic validation of the parsed configuration. It
// does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.host == "" {
		return errors.New("host must not be empty")
	}
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("port out of range: %d", c.port)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.device {
	case "console", "serial", "null":
	default:
		return fmt.Errorf("invalid device: %s", c.device)
	}
	if _, err := hub.ParsePolicy(c.hubPolicy); err != nil {
		return err
	}
	if _, err := keypad.ParseReleasePolicy(c.releaseUplink); err != nil {
		return err
	}
	if c.auxDevice != "" {
		if _, err := auxinput.ParseButtons(c.auxButtons); err != nil {
			return fmt.Errorf("aux-buttons: %w", err)
		}
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.device == "serial" {
		if c.serialDev == "" {
			return errors.New("serial device must be set for --device=serial")
		}
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if c.serialReadTO <= 0 {
			return errors.New("serial-read-timeout must be > 0")
		}
	}
	if c.retryDelay <= 0 {
		return errors.New("retry-delay must be > 0")
	}
	if c.grace < 0 {
		return errors.New("grace must be >= 0")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.mdnsEnable && c.metricsAddr == "" {
		return errors.New("mdns-enable needs metrics-addr (the advertised status endpoint)")
	}
	return nil
}
