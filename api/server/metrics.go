// metrics.go - Metrics collection for the HealthCoach node
package server

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"

	"healthcoach/core/chain"
)

// NodeMetrics holds granular health metrics for the node.
type NodeMetrics struct {
	UptimeSeconds  int64   `json:"uptime_seconds"`
	BlockHeight    uint64  `json:"block_height"`
	PendingTx      int     `json:"pending_tx"`
	TxApplied      uint64  `json:"tx_applied"`
	TxFailed       uint64  `json:"tx_failed"`
	Producing      bool    `json:"producing"`
	CPULoadPercent float64 `json:"cpu_load_percent"`
	MemoryMB       float64 `json:"memory_mb"`
	DiskFreeMB     float64 `json:"disk_free_mb"`
	LastBlockTime  string  `json:"last_block_time,omitempty"`
}

// GetNodeMetrics returns current health metrics for the node.
func (s *Server) GetNodeMetrics() NodeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	dir := s.cfg.DataDir
	if dir == "" {
		dir = "."
	}
	diskFreeMB := 0.0
	if usage, err := disk.Usage(dir); err == nil {
		diskFreeMB = float64(usage.Free) / (1024 * 1024)
	}

	cpuLoad := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuLoad = percents[0]
	}

	head := s.node.Head()
	applied, failed := s.node.Stats()
	out := NodeMetrics{
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		BlockHeight:    head.Height,
		PendingTx:      s.node.Pending(),
		TxApplied:      applied,
		TxFailed:       failed,
		Producing:      s.node.Running(),
		CPULoadPercent: cpuLoad,
		MemoryMB:       float64(m.Alloc) / (1024 * 1024),
		DiskFreeMB:     diskFreeMB,
	}
	if head.Height > 0 {
		out.LastBlockTime = time.Unix(int64(head.Timestamp), 0).UTC().Format(time.RFC3339)
	}
	return out
}

// apiMetrics are the Prometheus collectors served on /metrics. Each server
// owns its registry.
type apiMetrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	txSubmitted    prometheus.Counter
	txRejected     *prometheus.CounterVec
	oracleRequests *prometheus.CounterVec
}

func newAPIMetrics(node *chain.Node) *apiMetrics {
	m := &apiMetrics{registry: prometheus.NewRegistry()}

	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthcoach",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total number of API requests",
	}, []string{"method", "route", "code"})

	m.txSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthcoach",
		Subsystem: "ledger",
		Name:      "tx_submitted_total",
		Help:      "Transactions received by the API",
	})

	m.txRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthcoach",
		Subsystem: "ledger",
		Name:      "tx_rejected_total",
		Help:      "Transactions refused before reaching the mempool",
	}, []string{"reason"})

	m.oracleRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthcoach",
		Subsystem: "oracle",
		Name:      "user_decrypt_total",
		Help:      "User decryption requests by result",
	}, []string{"result"}) // result: accepted/rejected/error

	m.registry.MustRegister(
		m.requests,
		m.txSubmitted,
		m.txRejected,
		m.oracleRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "healthcoach",
			Subsystem: "ledger",
			Name:      "block_height",
			Help:      "Height of the ledger head",
		}, func() float64 { return float64(node.Height()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "healthcoach",
			Subsystem: "ledger",
			Name:      "mempool_pending",
			Help:      "Transactions waiting for a block",
		}, func() float64 { return float64(node.Pending()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "healthcoach",
			Subsystem: "ledger",
			Name:      "tx_applied_total",
			Help:      "Transactions confirmed since start",
		}, func() float64 { applied, _ := node.Stats(); return float64(applied) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "healthcoach",
			Subsystem: "ledger",
			Name:      "tx_failed_total",
			Help:      "Transactions included with a failed receipt since start",
		}, func() float64 { _, failed := node.Stats(); return float64(failed) }),
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests per route template so path parameters do not
// explode label cardinality.
func (m *apiMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}
