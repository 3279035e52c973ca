package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-msgtask/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	dispatchDurationSeconds *prom.HistogramVec
	handlerFailureTotal     *prom.CounterVec
	messageRejectedTotal    *prom.CounterVec
	queueDepth              *prom.GaugeVec
	pulseTotal              *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "msgtask"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Handler duration per dispatched message in seconds.",
		Buckets:   buckets,
	}, []string{"task", "priority"})
	failureVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "handler_failure_total",
		Help:      "Total number of handler errors and panics.",
	}, []string{"task", "kind"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "message_rejected_total",
		Help:      "Total number of refused posts.",
	}, []string{"task", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current queue depth.",
	}, []string{"task"})
	pulseVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "pulse_total",
		Help:      "Total number of pulses delivered.",
	}, []string{"pulser"})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if failureVec, err = registerCollector(reg, failureVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if pulseVec, err = registerCollector(reg, pulseVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		dispatchDurationSeconds: durationVec,
		handlerFailureTotal:     failureVec,
		messageRejectedTotal:    rejectedVec,
		queueDepth:              queueDepthVec,
		pulseTotal:              pulseVec,
	}, nil
}

// RecordDispatchDuration records how long a handler took.
func (m *MetricsExporter) RecordDispatchDuration(taskName string, priority core.Priority, duration time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDurationSeconds.WithLabelValues(normalizeLabel(taskName, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordHandlerFailure records handler errors and panics.
func (m *MetricsExporter) RecordHandlerFailure(taskName string, panicked bool) {
	if m == nil {
		return
	}
	kind := "error"
	if panicked {
		kind = "panic"
	}
	m.handlerFailureTotal.WithLabelValues(normalizeLabel(taskName, "unknown"), kind).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(taskName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(taskName, "unknown")).Set(float64(depth))
}

// RecordMessageRejected records refused posts.
func (m *MetricsExporter) RecordMessageRejected(taskName string, reason string) {
	if m == nil {
		return
	}
	m.messageRejectedTotal.WithLabelValues(normalizeLabel(taskName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordPulse records one delivered pulse.
func (m *MetricsExporter) RecordPulse(pulserName string) {
	if m == nil {
		return
	}
	m.pulseTotal.WithLabelValues(normalizeLabel(pulserName, "unknown")).Inc()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
