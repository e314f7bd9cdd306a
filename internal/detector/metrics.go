package detector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	barsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_detector_bars_processed_total",
			Help: "Total number of bars processed by the engine",
		},
		[]string{"timeframe"},
	)

	barsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_detector_bars_dropped_total",
			Help: "Total number of bars dropped before processing",
		},
		[]string{"reason"},
	)

	swingsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_detector_swings_total",
			Help: "Total number of confirmed swings",
		},
		[]string{"timeframe", "direction", "cause"},
	)

	engineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_detector_errors_total",
			Help: "Total number of engine errors",
		},
		[]string{"kind"},
	)

	processingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swing_detector_processing_seconds",
			Help:    "Time spent processing one bar",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		},
	)

	checkpointsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swing_detector_checkpoints_total",
			Help: "Total number of context checkpoints by result",
		},
		[]string{"result"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swing_detector_active_workers",
			Help: "Number of running series workers",
		},
	)
)
