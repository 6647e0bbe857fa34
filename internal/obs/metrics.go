// Package obs exposes Prometheus metrics for the trade pipeline.
//
// Series:
//   - copybot_feed_frames_total{outcome}       feed frames by handler outcome
//   - copybot_feed_state{state}                1 for the current connection state
//   - copybot_order_attempts_total{result}     order submission attempts
//   - copybot_trades_total{action,status,kind} trade log entries
//   - copybot_task_wait_seconds                time queued before execution
//   - copybot_task_run_seconds{task}           execution time per task kind
//   - copybot_queue_depth, copybot_open_positions
package obs

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/copybot/internal/domain"
)

var feedStates = []domain.FeedState{
	domain.FeedConnecting, domain.FeedOpen, domain.FeedReconnecting, domain.FeedClosed,
}

// Metrics owns every collector. Create one per process with NewMetrics.
type Metrics struct {
	reg *prometheus.Registry

	frames   *prometheus.CounterVec
	state    *prometheus.GaugeVec
	attempts *prometheus.CounterVec
	trades   *prometheus.CounterVec
	taskWait prometheus.Histogram
	taskRun  *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "copybot_feed_frames_total", Help: "Feed frames by handler outcome"},
			[]string{"outcome"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "copybot_feed_state", Help: "Feed connection state (1 = current)"},
			[]string{"state"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "copybot_order_attempts_total", Help: "Order submission attempts"},
			[]string{"result"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "copybot_trades_total", Help: "Trade log entries"},
			[]string{"action", "status", "kind"},
		),
		taskWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copybot_task_wait_seconds",
			Help:    "Time a task spent queued before execution",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		taskRun: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copybot_task_run_seconds",
			Help:    "Task execution time",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"task"}),
	}
	m.reg.MustRegister(
		m.frames, m.state, m.attempts, m.trades, m.taskWait, m.taskRun,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Gauges registers sampled gauges for queue depth and open positions.
func (m *Metrics) Gauges(queueDepth, openPositions func() int) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "copybot_queue_depth", Help: "Tasks waiting in the execution queue",
		}, func() float64 { return float64(queueDepth()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "copybot_open_positions", Help: "Positions awaiting liquidation",
		}, func() float64 { return float64(openPositions()) }),
	)
}

// ObserveFrame counts one handled feed frame.
func (m *Metrics) ObserveFrame(outcome string, _ domain.TradeSignal) {
	m.frames.WithLabelValues(outcome).Inc()
}

// SetFeedState marks s as the current connection state.
func (m *Metrics) SetFeedState(s domain.FeedState) {
	for _, st := range feedStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

// ObserveAttempt counts one order submission attempt.
func (m *Metrics) ObserveAttempt(_ int, err error) {
	result := "ok"
	if err != nil {
		result = domain.ErrorKind(err)
	}
	m.attempts.WithLabelValues(result).Inc()
}

// ObserveTask records the queue wait and run time of one serialized task.
// Task names carry the asset after a colon; only the kind is used as label.
func (m *Metrics) ObserveTask(name string, wait, run time.Duration, _ error) {
	kind, _, _ := strings.Cut(name, ":")
	m.taskWait.Observe(wait.Seconds())
	m.taskRun.WithLabelValues(kind).Observe(run.Seconds())
}

// Record counts a trade log entry.
func (m *Metrics) Record(_ context.Context, e domain.TradeLogEntry) {
	status := "ok"
	if !e.Succeeded() {
		status = "failed"
	}
	m.trades.WithLabelValues(string(e.Action), status, e.ErrorKind).Inc()
}
