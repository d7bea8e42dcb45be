package gunn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	kernelLaunches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gunn_kernel_launches_total",
		Help: "Total number of kernel launches submitted to streams",
	})

	opRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gunn_operator_runs_total",
		Help: "Total number of operator invocations by operator name",
	}, []string{"op"})

	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gunn_pool_hits_total",
		Help: "Total number of successful memory pool retrievals",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gunn_pool_misses_total",
		Help: "Total number of memory pool misses (fresh allocations)",
	})

	poolBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gunn_pool_allocated_bytes",
		Help: "Current total size of live pool allocations in bytes",
	})
)
