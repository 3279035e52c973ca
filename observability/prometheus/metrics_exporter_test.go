package prometheus

import (
	"context"
	"testing"
	"time"

	"github.com/Swind/go-msgtask/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("msgtask", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordDispatchDuration("task-a", core.PriorityHigh, 250*time.Millisecond)
	exporter.RecordHandlerFailure("task-a", true)
	exporter.RecordHandlerFailure("task-a", false)
	exporter.RecordQueueDepth("task-a", 7)
	exporter.RecordMessageRejected("task-a", "task stopped")
	exporter.RecordPulse("heartbeat")

	if got := testutil.ToFloat64(exporter.handlerFailureTotal.WithLabelValues("task-a", "panic")); got != 1 {
		t.Fatalf("panic total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.handlerFailureTotal.WithLabelValues("task-a", "error")); got != 1 {
		t.Fatalf("error total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("task-a")); got != 7 {
		t.Fatalf("queue depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(exporter.messageRejectedTotal.WithLabelValues("task-a", "task stopped")); got != 1 {
		t.Fatalf("rejected total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(exporter.pulseTotal.WithLabelValues("heartbeat")); got != 1 {
		t.Fatalf("pulse total = %v, want 1", got)
	}

	histCount, err := histogramSampleCount(exporter.dispatchDurationSeconds.WithLabelValues("task-a", "high"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("msgtask", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("msgtask", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordHandlerFailure("task-a", true)
	second.RecordHandlerFailure("task-a", true)

	got := testutil.ToFloat64(first.handlerFailureTotal.WithLabelValues("task-a", "panic"))
	if got != 2 {
		t.Fatalf("shared failure counter = %v, want 2", got)
	}
}

func TestMetricsExporter_WiredIntoTask(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	task := core.NewTaskFunc(func(ctx context.Context, msg *core.Message) error {
		return nil
	}, &core.TaskConfig{Name: "wired", Logger: core.NewNoOpLogger(), Metrics: exporter})
	if err := task.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for range 3 {
		if _, err := task.SendAndWait(core.MessageTypeUser, nil, core.PriorityNormal, time.Second); err != nil {
			t.Fatalf("SendAndWait failed: %v", err)
		}
	}
	if err := task.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = task.Send(core.MessageTypeUser, nil, core.PriorityNormal)

	histCount, err := histogramSampleCount(exporter.dispatchDurationSeconds.WithLabelValues("wired", "normal"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 3 {
		t.Fatalf("normal-priority dispatches = %d, want 3", histCount)
	}
	if got := testutil.ToFloat64(exporter.messageRejectedTotal.WithLabelValues("wired", "task stopped")); got != 1 {
		t.Fatalf("rejected total = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(exporter.dispatchDurationSeconds); n != 2 {
		t.Fatalf("duration series = %d, want 2 (normal and highest)", n)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
