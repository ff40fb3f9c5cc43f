package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"AlphaDesk/internal/domain/models"
	"AlphaDesk/internal/domain/repository"
)

const namespace = "alphadesk"

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	signalsGenerated *prometheus.CounterVec
	signalsRejected  *prometheus.CounterVec
	ordersFilled     *prometheus.CounterVec
	violations       *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	drawdown         prometheus.Gauge
	valueAtRisk      prometheus.Gauge
	podWeight        *prometheus.GaugeVec
	queueDepth       prometheus.Gauge
	latency          *prometheus.HistogramVec
}

var _ repository.Metrics = (*Recorder)(nil)

// New registers the recorder's collectors on reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signalsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_generated_total",
			Help:      "Alpha results that passed all engine filters",
		}, []string{"symbol"}),
		signalsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_rejected_total",
			Help:      "Signals rejected by the risk manager",
		}, []string{"reason"}),
		ordersFilled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_filled_total",
			Help:      "Orders filled by the venue",
		}, []string{"symbol", "side"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_violations_total",
			Help:      "Risk limit breaches",
		}, []string{"type", "severity"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors encountered",
		}, []string{"type"}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drawdown_ratio",
			Help:      "Current drawdown from equity peak",
		}),
		valueAtRisk: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value_at_risk",
			Help:      "Portfolio value at risk in account currency",
		}),
		podWeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pod_weight",
			Help:      "Meta-allocator weight per pod",
		}, []string{"pod"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "execution_queue_depth",
			Help:      "Signals waiting in the execution queue",
		}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of operations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordSignalGenerated(symbol string) {
	r.signalsGenerated.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordSignalRejected(reason string) {
	r.signalsRejected.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordOrderFilled(symbol string, side models.Side) {
	r.ordersFilled.WithLabelValues(symbol, string(side)).Inc()
}

func (r *Recorder) RecordViolation(kind, severity string) {
	r.violations.WithLabelValues(kind, severity).Inc()
}

func (r *Recorder) SetDrawdown(v float64) { r.drawdown.Set(v) }

func (r *Recorder) SetVaR(v float64) { r.valueAtRisk.Set(v) }

func (r *Recorder) SetPodWeight(pod string, w float64) { r.podWeight.WithLabelValues(pod).Set(w) }

func (r *Recorder) SetQueueDepth(n int) { r.queueDepth.Set(float64(n)) }

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Discard is a no-op sink.
type Discard struct{}

var _ repository.Metrics = Discard{}

func (Discard) RecordSignalGenerated(string)          {}
func (Discard) RecordSignalRejected(string)           {}
func (Discard) RecordOrderFilled(string, models.Side) {}
func (Discard) RecordViolation(string, string)        {}
func (Discard) SetDrawdown(float64)                   {}
func (Discard) SetVaR(float64)                        {}
func (Discard) SetPodWeight(string, float64)          {}
func (Discard) SetQueueDepth(int)                     {}
func (Discard) RecordError(string)                    {}
func (Discard) RecordLatency(string, float64)         {}
