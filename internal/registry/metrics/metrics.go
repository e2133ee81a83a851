package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChannelsActive  prometheus.Gauge
	FundsActive     prometheus.Gauge
	SetupsInitiated *prometheus.CounterVec
	Finalizations   *prometheus.CounterVec
	Closures        *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		ChannelsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cardvault_registry_partner_channels_active",
			Help: "Current number of active partner channels",
		}),
		FundsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cardvault_registry_card_funds_active",
			Help: "Current number of active card funds",
		}),
		SetupsInitiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_registry_setups_initiated_total",
			Help: "Total two-phase creations initiated",
		}, []string{"kind"}),
		Finalizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_registry_finalizations_total",
			Help: "Total two-phase creations finalized",
		}, []string{"kind"}),
		Closures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_registry_closures_total",
			Help: "Total records closed",
		}, []string{"kind"}),
	}
}
