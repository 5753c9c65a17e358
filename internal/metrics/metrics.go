package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the proxy core. One instance
// per worker, registered on the default registry and served on /metrics.
type Metrics struct {
	ActiveChannels prometheus.Gauge
	ActiveClients  prometheus.Gauge

	BytesRelayed    *prometheus.CounterVec
	ChunksAppended  *prometheus.CounterVec
	KeepalivesSent  *prometheus.CounterVec
	UpstreamRetries *prometheus.CounterVec
	URLSwitches     *prometheus.CounterVec

	OwnershipAcquired prometheus.Counter
	OwnershipLost     prometheus.Counter
}

// New registers and returns the core metrics.
func New() *Metrics {
	return &Metrics{
		ActiveChannels: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tsproxy_active_channels",
			Help: "Channels with local runtime state on this worker.",
		}),
		ActiveClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tsproxy_active_clients",
			Help: "HTTP streaming clients connected to this worker.",
		}),
		BytesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsproxy_bytes_relayed_total",
			Help: "TS bytes written to clients.",
		}, []string{"channel"}),
		ChunksAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsproxy_chunks_appended_total",
			Help: "Chunks appended to the shared buffer by the fetch loop.",
		}, []string{"channel"}),
		KeepalivesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsproxy_keepalives_sent_total",
			Help: "Null TS packets emitted to hide upstream stalls.",
		}, []string{"channel"}),
		UpstreamRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsproxy_upstream_retries_total",
			Help: "Upstream reconnect attempts.",
		}, []string{"channel"}),
		URLSwitches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tsproxy_url_switches_total",
			Help: "Executed upstream URL switches.",
		}, []string{"channel"}),
		OwnershipAcquired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tsproxy_ownership_acquired_total",
			Help: "Channel ownership locks won by this worker.",
		}),
		OwnershipLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tsproxy_ownership_lost_total",
			Help: "Ownership renewals that failed, demoting this worker.",
		}),
	}
}
