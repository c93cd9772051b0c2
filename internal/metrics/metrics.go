// Package metrics declares the Prometheus instruments of the terrain
// pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	kindLabel   = "kind"
	levelLabel  = "level"
	resultLabel = "result"
)

var (
	taskSetsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_task_sets_created_total",
		Help: "The number of task sets accepted by the task runtime.",
	}, []string{kindLabel})

	taskSetsRefused = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_task_sets_refused_total",
		Help: "The number of task sets the task runtime refused.",
	}, []string{kindLabel})

	taskSetsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_task_sets_completed_total",
		Help: "The number of task sets that finished executing.",
	}, []string{kindLabel})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_task_duration_seconds",
		Help:    "The time a task set spent executing.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{kindLabel})

	lodTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_lod_transitions_total",
		Help: "The number of applied refinements and coarsenings.",
	}, []string{kindLabel})

	activePatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_active_patches",
		Help: "The number of optimal patches in the last frame.",
	})

	visiblePatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_visible_patches",
		Help: "The number of optimal patches inside the view frustum in the last frame.",
	})

	frameTriangles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_frame_triangles",
		Help: "The number of triangles of the visible patches in the last frame.",
	})

	frameDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_frame_update_seconds",
		Help:    "The time spent in one model update.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	buildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "terrain_triangulation_build_seconds",
		Help:    "The time spent building the triangulation hierarchy.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{resultLabel})

	levelBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "terrain_triangulation_level_bytes",
		Help: "The compressed size of the triangulations of one hierarchy level.",
	}, []string{levelLabel})
)

// InstrumentTaskSetCreated counts a scheduled task set.
func InstrumentTaskSetCreated(kind string) {
	taskSetsCreated.With(prometheus.Labels{kindLabel: kind}).Inc()
}

// InstrumentTaskSetRefused counts a task set the runtime did not accept.
func InstrumentTaskSetRefused(kind string) {
	taskSetsRefused.With(prometheus.Labels{kindLabel: kind}).Inc()
}

// InstrumentTaskSetCompleted records a finished task set.
func InstrumentTaskSetCompleted(kind string, d time.Duration) {
	taskSetsCompleted.With(prometheus.Labels{kindLabel: kind}).Inc()
	taskDuration.With(prometheus.Labels{kindLabel: kind}).Observe(d.Seconds())
}

// InstrumentLODTransition counts an applied increase or decrease.
func InstrumentLODTransition(kind string) {
	lodTransitions.With(prometheus.Labels{kindLabel: kind}).Inc()
}

// InstrumentFrame records the complexity of one model update.
func InstrumentFrame(active, visible, triangles int, d time.Duration) {
	activePatches.Set(float64(active))
	visiblePatches.Set(float64(visible))
	frameTriangles.Set(float64(triangles))
	frameDuration.Observe(d.Seconds())
}

// InstrumentBuild records a triangulation hierarchy build.
func InstrumentBuild(err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	buildDuration.With(prometheus.Labels{resultLabel: result}).Observe(d.Seconds())
}

// InstrumentLevelBytes records the compressed size of a hierarchy level.
func InstrumentLevelBytes(level int, bytes int64) {
	levelBytes.With(prometheus.Labels{levelLabel: strconv.Itoa(level)}).Set(float64(bytes))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
