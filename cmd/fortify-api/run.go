package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apiserver "github.com/strin/fortify/internal/api_server"
	"github.com/strin/fortify/internal/config"
	"github.com/strin/fortify/internal/events"
	"github.com/strin/fortify/internal/store"
	"github.com/strin/fortify/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the fortify api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalf("initializing data store: %v", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			zap.S().Fatalf("running initial migration: %v", err)
		}

		evProducer := newEventProducer(cfg)
		defer func() { _ = evProducer.Close() }()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalf("creating listener: %s", err)
			}

			server := apiserver.New(cfg, s, listener, evProducer)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalf("Error running server: %s", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalf("creating listener: %s", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener, s)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalf("Error running metrics server: %s", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}

// newEventProducer wires the kafka writer when brokers are configured and
// falls back to the stdout writer otherwise.
func newEventProducer(cfg *config.Config) *events.EventProducer {
	kafka := cfg.Service.Kafka
	if len(kafka.Brokers) == 0 {
		return events.NewEventProducer(&events.StdoutWriter{})
	}

	writer, err := events.NewKafkaWriter(kafka.Brokers, kafka.ClientID, kafka.Version, kafka.SaramaConfig)
	if err != nil {
		zap.S().Warnw("kafka writer unavailable, falling back to stdout", "error", err)
		return events.NewEventProducer(&events.StdoutWriter{})
	}
	return events.NewEventProducer(writer, events.WithOutputTopic(kafka.Topic))
}
