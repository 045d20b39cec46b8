package voxelize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	backendLabel = "backend"
	reasonLabel  = "reason"

	skipReasonGeometry     = "geometry_not_ready"
	skipReasonDispatch     = "dispatch_failed"
	skipReasonGridTooLarge = "grid_too_large"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelize_ticks_total",
		Help: "The number of frames that dispatched the voxelize kernel.",
	}, []string{
		backendLabel,
	})

	skippedTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxelize_skipped_ticks_total",
		Help: "The number of frames skipped before dispatch.",
	}, []string{
		reasonLabel,
	})

	bufferReallocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxelize_buffer_reallocations_total",
		Help: "The number of times the output buffer was released and reallocated.",
	})

	gridCells = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxelize_grid_cells",
		Help: "The cell count of the most recent grid.",
	})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxelize_tick_seconds",
		Help:    "Time spent planning, reallocating and issuing one frame.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}, []string{
		backendLabel,
	})

	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxelize_kernel_seconds",
		Help:    "Time from kernel start to the last cell write.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	}, []string{
		backendLabel,
	})
)

// ObserveKernel records how long a dispatch took to execute. Dispatchers
// outside this package report through it.
func ObserveKernel(backend string, d time.Duration) {
	observeKernel(backend, d)
}

func observeKernel(backend string, d time.Duration) {
	kernelDuration.With(prometheus.Labels{backendLabel: backend}).Observe(d.Seconds())
}
