package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"GoFlowRatio/pkg/config"
	"GoFlowRatio/pkg/lock"
	"GoFlowRatio/pkg/logging"
	"GoFlowRatio/pkg/pipeline"
	"GoFlowRatio/pkg/publish"
	"GoFlowRatio/pkg/speedtest"
	"GoFlowRatio/pkg/traffic"
)

const version = "1.0.0"

const (
	exitOK      = 0
	exitFailed  = 1
	exitStartup = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		once        bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to config.yaml (defaults apply when empty)")
	flag.BoolVar(&once, "once", false, "run a single pass even when a schedule is configured")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("flowratio v%s\n", version)
		return exitOK
	}

	if err := godotenv.Load(); err != nil {
		log.Println("INFO: No .env file found, relying on system environment variables")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		return exitStartup
	}

	logger, err := logging.Init(cfg.Log)
	if err != nil {
		log.Printf("Failed to init logger: %v", err)
		return exitStartup
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, cleanup, err := buildRunner(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitStartup
	}
	defer cleanup()

	if cfg.Schedule == "" || once {
		if report := runner.Run(ctx); !report.OK() {
			return exitFailed
		}
		return exitOK
	}

	daemon, err := pipeline.NewDaemon(cfg.Schedule, runner, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitStartup
	}
	daemon.Start(ctx)

	logger.Info("flowratio stopped")
	return exitOK
}

// buildRunner wires the pipeline from cfg. cleanup releases external clients.
func buildRunner(cfg *config.Config, logger *zap.Logger) (*pipeline.Runner, func(), error) {
	var (
		measurer speedtest.Measurer
		source   traffic.Source
	)
	if cfg.Simulate {
		logger.Warn("simulate mode: no speed test processes or metrics queries will run")
		measurer = speedtest.NewSimulatedMeasurer(0)
		source = traffic.NewSimulatedSource(0)
	} else {
		measurer = speedtest.NewProcessMeasurer(speedtest.Config{
			Command:  cfg.Speedtest.Command,
			Args:     cfg.Speedtest.Args,
			ServerID: cfg.Speedtest.ServerID,
			Timeout:  cfg.SpeedtestTimeout(),
		}, nil, logger)

		prom, err := traffic.NewPrometheusSource(traffic.PrometheusConfig{
			URL:     cfg.Prometheus.URL,
			Metric:  cfg.Prometheus.Metric,
			Label:   cfg.Prometheus.Label,
			Timeout: cfg.HTTPTimeout(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		source = prom
	}

	var publisher publish.Publisher
	if cfg.Publish.DryRun {
		publisher = publish.NewDryRunPublisher(logger)
	} else {
		p, err := publish.NewHTTPPublisher(publish.HTTPConfig{
			URL:     cfg.Publish.URL,
			Path:    cfg.Publish.Path,
			Timeout: cfg.HTTPTimeout(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		publisher = p
	}

	runner := pipeline.NewRunner(cfg.Interfaces, pipeline.Settings{
		Mode:           cfg.Mode,
		Policy:         cfg.Policy,
		LaunchInterval: cfg.LaunchInterval(),
	}, measurer, source, publisher, logger)

	cleanup := func() {}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanup = func() { _ = rdb.Close() }
		runner.WithLocker(lock.NewRedisLocker(rdb, cfg.LockTTL(), logger))
		logger.Info("interface locking enabled", zap.String("redis", cfg.Redis.Addr))
	}

	if cfg.Pushgateway.URL != "" {
		instance := cfg.Pushgateway.Instance
		if instance == "" {
			instance, _ = os.Hostname()
		}
		runner.WithRecorder(publish.NewPushRecorder(cfg.Pushgateway.URL, cfg.Pushgateway.Job, instance, logger))
	}

	return runner, cleanup, nil
}
