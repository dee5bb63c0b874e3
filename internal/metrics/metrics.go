// Package metrics provides Prometheus metrics for the preview service.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aivision-ssr/internal/crawlerroute"
	"aivision-ssr/internal/preview"
)

const namespace = "aivision_ssr"

var (
	// RouteDecisions counts routing decisions taken by the crawler router.
	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_decisions_total",
			Help:      "Requests seen by the crawler router, by decision and matched bot",
		},
		[]string{"decision", "bot"},
	)

	// RendersTotal counts preview responses by outcome.
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Preview responses by outcome",
		},
		[]string{"outcome"},
	)

	// RenderDuration measures the full preview pipeline.
	RenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of preview rendering in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// StageFailures counts failed pipeline stages.
	StageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Preview pipeline stage failures",
		},
		[]string{"stage"},
	)

	// StageDuration measures completed pipeline stages.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of completed preview stages in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"stage"},
	)

	// BackendDuration measures outbound calls to the Backend API and story hosts.
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Duration of outbound backend calls in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"call", "status"},
	)
)

// Outcome labels for RendersTotal.
const (
	OutcomeOK          = "ok"
	OutcomeFallback    = "fallback"
	OutcomeError       = "error"
	OutcomeNotModified = "not_modified"
)

// RecordRender records one finished preview response.
func RecordRender(outcome string, duration time.Duration) {
	RendersTotal.WithLabelValues(outcome).Inc()
	RenderDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Collector adapts the package metrics to the observer hooks of the router,
// the preview pipeline and the backend client.
type Collector struct{}

func (Collector) RecordRoute(d crawlerroute.Decision) {
	decision := "pass"
	if d.Rewrite {
		decision = "rewrite"
	}
	bot := d.Bot
	if bot == "" {
		bot = "none"
	}
	RouteDecisions.WithLabelValues(decision, bot).Inc()
}

func (Collector) StageStarted(context.Context, preview.Stage, string) {}

func (Collector) StageCompleted(_ context.Context, stage preview.Stage, _ string, elapsed time.Duration) {
	StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

func (Collector) StageFailed(_ context.Context, stage preview.Stage, _ string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	StageFailures.WithLabelValues(string(stage)).Inc()
}

func (Collector) ObserveCall(call string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendDuration.WithLabelValues(call, label).Observe(d.Seconds())
}
