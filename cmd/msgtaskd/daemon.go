package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	msgtask "github.com/Swind/go-msgtask"
	"github.com/Swind/go-msgtask/core"
	obs "github.com/Swind/go-msgtask/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// MessageTypeHeartbeat is posted to the control task on every pulse.
const MessageTypeHeartbeat = core.MessageTypeUser + 1

// job is the payload producers post to the control task.
type job struct {
	Producer int
	Seq      int
}

// Summary reports what a run did.
type Summary struct {
	Posted     int64
	Processed  int64
	Waited     int64
	Heartbeats int64
	ByPriority map[core.Priority]int64
	Stats      core.TaskStats
}

// controller is the control task's handler. Only the worker thread touches
// byPriority.
type controller struct {
	logger     core.Logger
	processed  atomic.Int64
	heartbeats atomic.Int64
	byPriority map[core.Priority]int64
}

func newController(logger core.Logger) *controller {
	return &controller{logger: logger, byPriority: make(map[core.Priority]int64)}
}

func (c *controller) HandleMessage(ctx context.Context, msg *core.Message) error {
	switch msg.Type() {
	case core.MessageTypeInit:
		c.logger.Info("control task started", core.F("task", core.GetCurrentTask(ctx).Name()))
	case core.MessageTypeExit:
		c.logger.Info("control task exiting", core.F("processed", c.processed.Load()))
	case MessageTypeHeartbeat:
		c.heartbeats.Add(1)
		c.logger.Debug("heartbeat", core.F("index", msg.Payload()))
	case core.MessageTypeUser:
		j, ok := msg.TakePayload().(job)
		if !ok {
			return fmt.Errorf("unexpected payload %T", msg.Payload())
		}
		c.byPriority[msg.Priority()]++
		c.processed.Add(1)
		c.logger.Debug("job processed",
			core.F("producer", j.Producer),
			core.F("seq", j.Seq),
			core.F("priority", msg.Priority().String()),
		)
	}
	return nil
}

var producerPriorities = []core.Priority{
	core.PriorityLow,
	core.PriorityNormal,
	core.PriorityNormal,
	core.PriorityHigh,
}

// produce posts cfg.Messages jobs, making every cfg.WaitEvery-th one
// waitable.
func produce(ctx context.Context, task *core.Task, cfg Config, id int, posted, waited *atomic.Int64) error {
	for seq := range cfg.Messages {
		if err := ctx.Err(); err != nil {
			return err
		}

		priority := producerPriorities[(id+seq)%len(producerPriorities)]
		payload := job{Producer: id, Seq: seq}

		var msg *core.Message
		if cfg.WaitEvery > 0 && (seq+1)%cfg.WaitEvery == 0 {
			msg = core.NewWaitableMessage(core.MessageTypeUser, priority, payload)
		} else {
			msg = core.NewMessage(core.MessageTypeUser, priority, payload)
		}

		if err := task.Post(msg, cfg.ShutdownTimeout); err != nil {
			return fmt.Errorf("producer %d: %w", id, err)
		}
		posted.Add(1)
		if msg.IsWaitable() {
			waited.Add(1)
		}
	}
	return nil
}

// run starts the control task, its producers and the heartbeat, serves
// metrics on cfg.MetricsAddr, and stops everything when ctx is done or
// cfg.RunFor has elapsed after the producers finished.
func run(ctx context.Context, cfg Config, logger core.Logger, reg *prom.Registry) (Summary, error) {
	var summary Summary

	policy, err := cfg.exitPolicy()
	if err != nil {
		return summary, err
	}

	exporter, err := obs.NewMetricsExporter(cfg.Namespace, reg, obs.ExporterOptions{})
	if err != nil {
		return summary, err
	}
	poller, err := obs.NewSnapshotPoller(reg, cfg.PollInterval)
	if err != nil {
		return summary, err
	}

	group := msgtask.NewGroup(cfg.Name, &core.TaskConfig{
		Logger:  logger,
		Metrics: exporter,
	})

	ctrl := newController(logger)
	control, err := group.StartTask(ctrl, &core.TaskConfig{
		Name:          cfg.Name + "-control",
		QueueCapacity: cfg.QueueCapacity,
		ExitPolicy:    policy,
	})
	if err != nil {
		return summary, err
	}
	poller.AddTask(control.Name(), control)

	if cfg.Heartbeat > 0 {
		heartbeat, err := group.StartPulser(&core.TaskConfig{Name: cfg.Name + "-heartbeat"}, cfg.Heartbeat, cfg.HeartbeatLimit,
			func(ctx context.Context, index uint64) {
				// A stopped control task only means shutdown is under way.
				_ = control.Send(MessageTypeHeartbeat, index, core.PriorityHigh)
			})
		if err != nil {
			_ = group.Shutdown(context.Background())
			return summary, err
		}
		poller.AddPulser(heartbeat.Name(), heartbeat)
	}

	poller.Start(ctx)
	defer poller.Stop()

	var server *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", core.F("error", err))
			}
		}()
		logger.Info("serving metrics", core.F("addr", cfg.MetricsAddr))
	}

	var posted, waited atomic.Int64
	producers, pctx := errgroup.WithContext(ctx)
	for id := range cfg.Producers {
		producers.Go(func() error {
			return produce(pctx, control, cfg, id, &posted, &waited)
		})
	}
	runErr := producers.Wait()
	if runErr == nil {
		runErr = control.WaitIdle(ctx)
	}
	if runErr == nil {
		logger.Info("producers finished", core.F("posted", posted.Load()))
		runErr = waitRunFor(ctx, cfg.RunFor)
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	if err := group.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	poller.CollectOnce()

	summary = Summary{
		Posted:     posted.Load(),
		Processed:  ctrl.processed.Load(),
		Waited:     waited.Load(),
		Heartbeats: ctrl.heartbeats.Load(),
		Stats:      control.Stats(),
	}
	if control.IsStopped() {
		summary.ByPriority = ctrl.byPriority
	}
	logger.Info("stopped",
		core.F("posted", summary.Posted),
		core.F("processed", summary.Processed),
		core.F("heartbeats", summary.Heartbeats),
	)
	return summary, runErr
}

func waitRunFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
