package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests            prometheus.Counter
	Cancellations       prometheus.Counter
	Executions          *prometheus.CounterVec
	WithdrawnAmount     *prometheus.CounterVec
	SignatureRejections prometheus.Counter
	NonceRejections     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Requests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_withdrawal_requests_total",
			Help: "Total withdrawal requests stored",
		}),
		Cancellations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_withdrawal_cancellations_total",
			Help: "Total withdrawal requests cancelled",
		}),
		Executions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_withdrawal_executions_total",
			Help: "Total executed withdrawals, per protocol",
		}, []string{"protocol"}),
		WithdrawnAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cardvault_withdrawal_amount_total",
			Help: "Total base units withdrawn, per protocol",
		}, []string{"protocol"}),
		SignatureRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_withdrawal_signature_rejections_total",
			Help: "Total approved withdrawals rejected on signature verification",
		}),
		NonceRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cardvault_withdrawal_nonce_rejections_total",
			Help: "Total withdrawals rejected on a nonce mismatch",
		}),
	}
}
