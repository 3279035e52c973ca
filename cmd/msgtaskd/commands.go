package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Swind/go-msgtask/observability/zaplog"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file",
		},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "metrics-addr", Usage: "listen address for /metrics, empty to disable"},
		&cli.IntFlag{Name: "producers", Aliases: []string{"p"}, Usage: "number of producer goroutines"},
		&cli.IntFlag{Name: "messages", Aliases: []string{"n"}, Usage: "messages per producer"},
		&cli.IntFlag{Name: "queue-capacity", Usage: "control queue bound, 0 for unbounded"},
		&cli.StringFlag{Name: "exit-policy", Usage: "drain or drop"},
		&cli.DurationFlag{Name: "heartbeat", Usage: "heartbeat period, 0 to disable"},
		&cli.DurationFlag{Name: "run-for", Usage: "stop this long after producers finish, 0 waits for a signal"},
	}
}

// loadConfig reads --config if given and applies every flag that was set.
func loadConfig(c *cli.Context) (Config, error) {
	cfg := DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if c.IsSet("producers") {
		cfg.Producers = c.Int("producers")
	}
	if c.IsSet("messages") {
		cfg.Messages = c.Int("messages")
	}
	if c.IsSet("queue-capacity") {
		cfg.QueueCapacity = c.Int("queue-capacity")
	}
	if c.IsSet("exit-policy") {
		cfg.ExitPolicy = c.String("exit-policy")
	}
	if c.IsSet("heartbeat") {
		cfg.Heartbeat = c.Duration("heartbeat")
	}
	if c.IsSet("run-for") {
		cfg.RunFor = c.Duration("run-for")
	}
	return cfg, cfg.Validate()
}

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run producers against a control task until interrupted",
		Flags:  configFlags(),
		Action: RunAction,
	}
}

func RunAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logger, err := zaplog.NewProduction(cfg.LogLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level: %v", err), 2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cfg, logger.Named("msgtaskd"), prom.NewRegistry())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	fmt.Fprintf(c.App.Writer, "posted=%d processed=%d waited=%d heartbeats=%d\n",
		summary.Posted, summary.Processed, summary.Waited, summary.Heartbeats)
	return nil
}

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Print the effective configuration as YAML",
		Flags:  configFlags(),
		Action: ConfigAction,
	}
}

func ConfigAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	out, err := cfg.YAML()
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}
	_, err = c.App.Writer.Write(out)
	return err
}
