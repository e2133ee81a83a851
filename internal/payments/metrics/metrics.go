package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Movements       *prometheus.CounterVec
	MovedAmount     *prometheus.CounterVec
	NonceRejections *prometheus.CounterVec
	AssetsAllowed   prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Movements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_payments_movements_total",
			Help: "Total accepted value movements",
		}, []string{"operation"}),
		MovedAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_payments_moved_amount_total",
			Help: "Total base units moved, per operation",
		}, []string{"operation"}),
		NonceRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_payments_nonce_rejections_total",
			Help: "Total movements rejected on a nonce mismatch",
		}, []string{"operation"}),
		AssetsAllowed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cardvault_payments_assets_allowed",
			Help: "Current number of allowlisted assets",
		}),
	}
}
