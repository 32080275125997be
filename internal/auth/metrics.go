// metrics.go -- Prometheus counters and histograms for the install flow.
package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shopify call labels for the request duration histogram.
const (
	callTokenExchange = "token_exchange"
	callShopProfile   = "shop_profile"
)

// Metrics records install flow outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	initiations     *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	shopifyDuration *prometheus.HistogramVec
}

// NewMetrics registers the install flow collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		initiations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storelink_oauth_initiations_total",
			Help: "Install initiations on /login by result.",
		}, []string{"result"}),
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storelink_oauth_callbacks_total",
			Help: "Install callbacks on /callback by result (success or failure reason).",
		}, []string{"result"}),
		shopifyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storelink_shopify_request_duration_seconds",
			Help:    "Latency of outbound Shopify calls made during the callback.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"call"}),
	}
}

func (m *Metrics) initiation(result string) {
	if m == nil {
		return
	}
	m.initiations.WithLabelValues(result).Inc()
}

func (m *Metrics) callback(result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(result).Inc()
}

func (m *Metrics) observeShopify(call string, start time.Time) {
	if m == nil {
		return
	}
	m.shopifyDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}
