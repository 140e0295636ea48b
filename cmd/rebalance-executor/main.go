// Command rebalance-executor runs the cluster-rebalancing execution
// controller standalone: it loads a YAML config, dials the target Kafka
// cluster, and serves the Status Snapshot and metrics over HTTP until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/cluster-rebalance/executor/pkg/contracts"
	"github.com/cluster-rebalance/executor/pkg/executor"
	"github.com/cluster-rebalance/executor/pkg/httpapi"
	"github.com/cluster-rebalance/executor/pkg/kafkaadmin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Execution controller config file path")
		brokers    = flag.String("brokers", "127.0.0.1:9092", "Comma-separated Kafka bootstrap brokers")
		httpAddr   = flag.String("http", ":8089", "HTTP address for /status, /status/ws, /metrics")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	log, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := executor.NewLiveConfig(log, *configFile)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	saramaConf := sarama.NewConfig()
	saramaConf.Version = sarama.V2_8_0_0
	admin, err := kafkaadmin.NewClient(log, strings.Split(*brokers, ","), saramaConf, 10*time.Second)
	if err != nil {
		log.Fatal("failed to connect to kafka cluster", zap.Error(err))
	}

	metrics := executor.NewMetrics(prometheus.DefaultRegisterer)

	controller, err := executor.NewController(
		log, cfg,
		admin, admin, admin,
		nil, nil, nil, nil, nil,
		metrics, contracts.RealClock{}, admin,
	)
	if err != nil {
		log.Fatal("failed to build controller", zap.Error(err))
	}

	server := httpapi.NewServer(log, *httpAddr, controller, time.Duration(cfg.Current().ExecutionProgressCheckIntervalMs)*time.Millisecond)

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case err := <-serverErrCh:
		if err != nil {
			log.Error("http server exited", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := controller.Shutdown(shutdownCtx); err != nil {
		log.Warn("controller shutdown error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var zl zap.AtomicLevel
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.Level = zl
	return cfg.Build()
}
