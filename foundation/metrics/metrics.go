// Package metrics constructs the metrics the node publishes for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powchain"

// Metrics holds the node gauges and counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ChainHeight    prometheus.Gauge
	PoolSize       prometheus.Gauge
	Peers          *prometheus.GaugeVec
	Miners         prometheus.Gauge
	BlocksMined    prometheus.Counter
	MiningErrors   prometheus.Counter
	Alerts         *prometheus.CounterVec
	Requests       *prometheus.CounterVec
	Panics         prometheus.Counter
	EventListeners prometheus.Gauge
}

// New registers the node metrics along with the go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := Metrics{
		registry: reg,
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Number of blocks in the local chain including genesis.",
		}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_transactions",
			Help:      "Number of pending transactions.",
		}),
		Peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Connected peers by role.",
		}, []string{"role"}),
		Miners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "miners",
			Help:      "Nodes known to be mining.",
		}),
		BlocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_mined_total",
			Help:      "Blocks mined by this node.",
		}),
		MiningErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mining_errors_total",
			Help:      "Mining faults that stopped mining.",
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by severity.",
		}, []string{"severity"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Handled HTTP requests by status code.",
		}, []string{"code"}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "Recovered panics in HTTP handlers.",
		}),
		EventListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_listeners",
			Help:      "Websocket clients subscribed to node events.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ChainHeight,
		m.PoolSize,
		m.Peers,
		m.Miners,
		m.BlocksMined,
		m.MiningErrors,
		m.Alerts,
		m.Requests,
		m.Panics,
		m.EventListeners,
	)

	return &m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
