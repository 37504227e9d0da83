package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradcomm_engine_ops_total",
			Help: "Total number of collective operations completed by each rank.",
		},
		[]string{"kind", "status"},
	)

	bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradcomm_engine_bytes_total",
			Help: "Total number of bytes moved by collective operations.",
		},
		[]string{"kind"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradcomm_engine_op_duration_seconds",
			Help:    "Time from the first rank submitting an operation to its completion.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(opsTotal)
	prometheus.MustRegister(bytesTotal)
	prometheus.MustRegister(opDuration)
}
