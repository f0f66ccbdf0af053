package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-pidsky/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agc_rx_frames_total",
		Help: "Total frames decoded from the AGC stream.",
	})
	TxUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agc_tx_updates_total",
		Help: "Total mask+data frame pairs written to the AGC stream.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agc_malformed_frames_total",
		Help: "Total 4-byte windows rejected for bad signatures.",
	})
	ResyncBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agc_resync_bytes_total",
		Help: "Total bytes discarded while resynchronizing the stream.",
	})
	FillerFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agc_filler_frames_total",
		Help: "Total all-0xFF keep-alive windows dropped.",
	})
	ChannelEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agc_channel_events_total",
		Help: "Channel events dispatched to the router by channel.",
	}, []string{"channel"})
	KeyEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dsky_key_events_total",
		Help: "Logical key events produced by the keypad debouncer.",
	}, []string{"kind"})
	DeviceWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsky_device_writes_total",
		Help: "Total digit and register writes issued to the device.",
	})
	SuppressedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsky_suppressed_writes_total",
		Help: "Writes skipped because the device already holds the value.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agc_connects_total",
		Help: "Total successful connections to the AGC.",
	})
	ConnectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agc_connection_state",
		Help: "Connection state (0=disconnected, 1=connecting, 2=connected).",
	})
	StatusClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "status_active_clients",
		Help: "Current number of status feed subscribers.",
	})
	StatusDroppedUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_dropped_updates_total",
		Help: "Status updates dropped for slow subscribers.",
	})
	StatusKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "status_kicked_clients_total",
		Help: "Status subscribers disconnected by the kick policy.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrDial        = "agc_dial"
	ErrConnRead    = "agc_read"
	ErrConnWrite   = "agc_write"
	ErrDevice      = "device"
	ErrSerialRead  = "serial_read"
	ErrSerialWrite = "serial_write"
	ErrAuxInput    = "aux_input"
	ErrStatusWrite = "status_write"
)

// Key event kind labels.
const (
	KeyPress      = "press"
	KeyRelease    = "release"
	KeyProRelease = "pro_release"
)

// channelLabel keeps the channel label set fixed.
func channelLabel(ch uint8) string {
	switch ch {
	case 0o10:
		return "10"
	case 0o11:
		return "11"
	case 0o13:
		return "13"
	case 0o163:
		return "163"
	default:
		return "other"
	}
}

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
// Extra handlers (e.g. the status feed) are mounted on the same mux.
func StartHTTP(addr string, extra map[string]http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	for path, h := range extra {
		mux.Handle(path, h)
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx         uint64
	localTx         uint64
	localMalformed  uint64
	localResync     uint64
	localFiller     uint64
	localEvents     uint64
	localKeys       uint64
	localWrites     uint64
	localSuppressed uint64
	localConnects   uint64
	localState      uint64
	localClients    uint64
	localDrops      uint64
	localKicks      uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxFrames      uint64
	TxUpdates     uint64
	Malformed     uint64
	ResyncBytes   uint64
	Filler        uint64
	ChannelEvents uint64
	KeyEvents     uint64
	DeviceWrites  uint64
	Suppressed    uint64
	Connects      uint64
	State         uint64
	StatusClients uint64
	StatusDrops   uint64
	StatusKicks   uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		RxFrames:      atomic.LoadUint64(&localRx),
		TxUpdates:     atomic.LoadUint64(&localTx),
		Malformed:     atomic.LoadUint64(&localMalformed),
		ResyncBytes:   atomic.LoadUint64(&localResync),
		Filler:        atomic.LoadUint64(&localFiller),
		ChannelEvents: atomic.LoadUint64(&localEvents),
		KeyEvents:     atomic.LoadUint64(&localKeys),
		DeviceWrites:  atomic.LoadUint64(&localWrites),
		Suppressed:    atomic.LoadUint64(&localSuppressed),
		Connects:      atomic.LoadUint64(&localConnects),
		State:         atomic.LoadUint64(&localState),
		StatusClients: atomic.LoadUint64(&localClients),
		StatusDrops:   atomic.LoadUint64(&localDrops),
		StatusKicks:   atomic.LoadUint64(&localKicks),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx() {
	TxUpdates.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// AddResync records n bytes discarded during resynchronization.
func AddResync(n int) {
	if n <= 0 {
		return
	}
	ResyncBytes.Add(float64(n))
	atomic.AddUint64(&localResync, uint64(n))
}

func IncFiller() {
	FillerFrames.Inc()
	atomic.AddUint64(&localFiller, 1)
}

// IncChannelEvent counts one routed channel event.
func IncChannelEvent(ch uint8) {
	ChannelEvents.WithLabelValues(channelLabel(ch)).Inc()
	atomic.AddUint64(&localEvents, 1)
}

// IncKeyEvent counts one debouncer event by kind label.
func IncKeyEvent(kind string) {
	KeyEvents.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localKeys, 1)
}

func IncDeviceWrite() {
	DeviceWrites.Inc()
	atomic.AddUint64(&localWrites, 1)
}

func IncSuppressed() {
	SuppressedWrites.Inc()
	atomic.AddUint64(&localSuppressed, 1)
}

func IncConnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localConnects, 1)
}

// SetConnectionState records the numeric connection state.
func SetConnectionState(s int) {
	ConnectionState.Set(float64(s))
	atomic.StoreUint64(&localState, uint64(s))
}

func SetStatusClients(n int) {
	StatusClients.Set(float64(n))
	atomic.StoreUint64(&localClients, uint64(n))
}

func IncStatusDrop() {
	StatusDroppedUpdates.Inc()
	atomic.AddUint64(&localDrops, 1)
}

func IncStatusKick() {
	StatusKickedClients.Inc()
	atomic.AddUint64(&localKicks, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrDial, ErrConnRead, ErrConnWrite, ErrDevice,
		ErrSerialRead, ErrSerialWrite, ErrAuxInput, ErrStatusWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, k := range []string{KeyPress, KeyRelease, KeyProRelease} {
		KeyEvents.WithLabelValues(k).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
