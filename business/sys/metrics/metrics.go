// Package metrics constructs the metrics the node exposes for scraping.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// This holds the single instance of the metrics value needed for collecting
// metrics. The prometheus registry does not allow the same name to be
// registered twice so these are package level.
var m = struct {
	goroutines  prometheus.Gauge
	requests    prometheus.Counter
	errors      prometheus.Counter
	panics      prometheus.Counter
	blockHeight prometheus.Gauge
	mempoolSize prometheus.Gauge
	peerCount   prometheus.Gauge
	txIngress   *prometheus.CounterVec
	txRejected  prometheus.Counter
}{
	goroutines: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_goroutines",
		Help: "Number of goroutines sampled every 100 requests",
	}),
	requests: promauto.NewCounter(prometheus.CounterOpts{
		Name: "node_requests_total",
		Help: "Total number of web requests",
	}),
	errors: promauto.NewCounter(prometheus.CounterOpts{
		Name: "node_errors_total",
		Help: "Total number of web requests that returned an error",
	}),
	panics: promauto.NewCounter(prometheus.CounterOpts{
		Name: "node_panics_total",
		Help: "Total number of panics recovered in handlers",
	}),
	blockHeight: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_block_height",
		Help: "Number of the latest committed block",
	}),
	mempoolSize: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_mempool_size",
		Help: "Number of transactions waiting in the mempool",
	}),
	peerCount: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "node_peer_count",
		Help: "Number of connected peers",
	}),
	txIngress: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "node_tx_ingress_total",
		Help: "Transactions accepted into the mempool",
	}, []string{"source"}),
	txRejected: promauto.NewCounter(prometheus.CounterOpts{
		Name: "node_tx_rejected_total",
		Help: "Transactions rejected at submission",
	}),
}

// Handler returns the handler that serves the metrics for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AddGoroutines refreshes the goroutine metric every 100 requests.
func AddGoroutines(requests int64) {
	if requests%100 == 0 {
		m.goroutines.Set(float64(runtime.NumGoroutine()))
	}
}

// AddRequests increments the request metric by 1.
func AddRequests() {
	m.requests.Inc()
}

// AddErrors increments the errors metric by 1.
func AddErrors() {
	m.errors.Inc()
}

// AddPanics increments the panics metric by 1.
func AddPanics() {
	m.panics.Inc()
}

// SetBlockHeight records the latest block number.
func SetBlockHeight(number uint64) {
	m.blockHeight.Set(float64(number))
}

// SetMempoolSize records the number of pending transactions.
func SetMempoolSize(size int) {
	m.mempoolSize.Set(float64(size))
}

// SetPeerCount records the number of connected peers.
func SetPeerCount(peers int) {
	m.peerCount.Set(float64(peers))
}

// AddTxIngress counts a transaction admitted from the named source.
func AddTxIngress(source string) {
	m.txIngress.WithLabelValues(source).Inc()
}

// AddTxRejected counts a transaction rejected at submission.
func AddTxRejected() {
	m.txRejected.Inc()
}
