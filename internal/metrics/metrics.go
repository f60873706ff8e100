package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/MrGreensWorkshop/zephyr/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames read from the host bus endpoint.",
	})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames written to the host bus endpoint.",
	})
	TxConfirms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_confirms_total",
		Help: "Total transmission-confirmation echoes observed.",
	})
	TxTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_admission_timeouts_total",
		Help: "Total sends rejected because the bus stayed busy past the caller deadline.",
	})
	DispatchedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_dispatched_frames_total",
		Help: "Total filter callback invocations (one per matching filter per frame).",
	})
	ActiveFilters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "can_active_rx_filters",
		Help: "Currently occupied receive filter slots.",
	})
	BridgeRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_rx_frames_total",
		Help: "Total CAN frames received from bridge clients.",
	})
	BridgeTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_tx_frames_total",
		Help: "Total CAN frames sent to bridge clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active connected clients.",
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
	ErrBusWrite    = "bus_write"
	ErrBusRead     = "bus_read"
	ErrBusPoll     = "bus_poll"
	ErrSlcanWrite  = "slcan_write"
	ErrSlcanParse  = "slcan_parse"
	ErrBridgeRead  = "bridge_read"
	ErrBridgeWrite = "bridge_write"
	ErrBridgeTx    = "bridge_tx"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
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
	localConfirms   uint64
	localTimeouts   uint64
	localDispatched uint64
	localFilters    uint64
	localBridgeRx   uint64
	localBridgeTx   uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localHubClients uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Rx            uint64
	Tx            uint64
	TxConfirms    uint64
	TxTimeouts    uint64
	Dispatched    uint64
	ActiveFilters uint64
	BridgeRx      uint64
	BridgeTx      uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	HubClients    uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		Rx:            atomic.LoadUint64(&localRx),
		Tx:            atomic.LoadUint64(&localTx),
		TxConfirms:    atomic.LoadUint64(&localConfirms),
		TxTimeouts:    atomic.LoadUint64(&localTimeouts),
		Dispatched:    atomic.LoadUint64(&localDispatched),
		ActiveFilters: atomic.LoadUint64(&localFilters),
		BridgeRx:      atomic.LoadUint64(&localBridgeRx),
		BridgeTx:      atomic.LoadUint64(&localBridgeTx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncRx() {
	RxFrames.Inc()
	atomic.AddUint64(&localRx, 1)
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncTxConfirm() {
	TxConfirms.Inc()
	atomic.AddUint64(&localConfirms, 1)
}

func IncTxTimeout() {
	TxTimeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

// AddDispatched records n filter callback invocations for one frame.
func AddDispatched(n int) {
	if n <= 0 {
		return
	}
	DispatchedFrames.Add(float64(n))
	atomic.AddUint64(&localDispatched, uint64(n))
}

func SetActiveFilters(n int) {
	ActiveFilters.Set(float64(n))
	atomic.StoreUint64(&localFilters, uint64(n))
}

func IncBridgeRx() {
	BridgeRxFrames.Inc()
	atomic.AddUint64(&localBridgeRx, 1)
}

func AddBridgeTx(n int) {
	BridgeTxFrames.Add(float64(n))
	atomic.AddUint64(&localBridgeTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
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
		ErrBusWrite, ErrBusRead, ErrBusPoll,
		ErrSlcanWrite, ErrSlcanParse,
		ErrBridgeRead, ErrBridgeWrite, ErrBridgeTx,
	} {
		Errors.WithLabelValues(lbl).Add(0)
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
