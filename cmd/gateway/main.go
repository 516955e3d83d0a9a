package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway/internal/gateway"
	"gateway/pkg/changefeed"
	"gateway/pkg/config"
	"gateway/pkg/dispatch"
	"gateway/pkg/health"
	"gateway/pkg/logger"
	"gateway/pkg/registry"
	"gateway/pkg/routing"
	"gateway/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the instance config (e.g. configs/combat.yaml)")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
		Gateway:     cfg.Gateway.Name,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("gateway initializing",
		zap.String("env", cfg.Environment),
		zap.String("broker", cfg.Broker.Type),
		zap.Strings("topics", cfg.TopicNames()))

	// 3. Open the change stream source
	opener, closeBroker, err := newOpener(cfg)
	if err != nil {
		l.Error("failed to configure broker", err)
		os.Exit(1)
	}
	defer closeBroker()

	// 4. Initialize components
	policy, err := cfg.Policy()
	if err != nil {
		l.Error("invalid topic policy", err)
		os.Exit(1)
	}

	reg := registry.New()
	monitor := health.NewMonitor(cfg.Gateway.Name, cfg.HealthThresholds(), health.WithConnections(reg.Count))
	prometheus.MustRegister(monitor)

	consumer := changefeed.NewConsumer(changefeed.Config{
		Topics:          cfg.TopicNames(),
		PollInterval:    cfg.Consumer.PollInterval,
		Backoff:         cfg.RetryOptions(),
		StartupAttempts: cfg.Consumer.StartupAttempts,
	}, opener, monitor, l)
	dispatcher := dispatch.NewDispatcher(reg, routing.NewFilter(policy), monitor, l)

	// 5. Create service
	svc := gateway.NewService(gateway.Config{
		QueueSize:       cfg.Gateway.QueueSize,
		WriteTimeout:    cfg.Gateway.WriteTimeout,
		PongWait:        cfg.Gateway.PongWait,
		MaxMessageBytes: cfg.Gateway.MaxMessageBytes,
	}, l, reg, consumer, dispatcher, monitor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Subscribe before accepting clients
	if err := svc.Start(ctx); err != nil {
		l.Error("gateway failed to start", err)
		os.Exit(1)
	}

	// 7. Start client and health server
	srv := server.New(cfg.Gateway.ListenAddr, http.HandlerFunc(svc.HandleWebSocket), monitor, svc.Ready, l)
	if err := srv.Start(); err != nil {
		l.Error("failed to start server", err)
		os.Exit(1)
	}

	l.Info("gateway running", zap.String("addr", srv.Addr()))
	<-ctx.Done()
	l.Info("gateway stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop accepting sockets first; upgraded sessions are closed by svc.Stop
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("error during server shutdown", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		l.Error("error during service stop", err)
	}
}

// newOpener builds the source opener for the configured broker type
func newOpener(cfg *config.AppConfig) (changefeed.Opener, func(), error) {
	switch cfg.Broker.Type {
	case config.BrokerKafka:
		return changefeed.NewKafkaOpener(changefeed.KafkaConfig{
			Brokers:     cfg.Broker.Kafka.Brokers,
			GroupID:     cfg.Broker.Kafka.GroupID,
			DialTimeout: cfg.Broker.Kafka.DialTimeout,
		}), func() {}, nil

	case config.BrokerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Broker.Redis.Addr,
			Password: cfg.Broker.Redis.Password,
			DB:       cfg.Broker.Redis.DB,
		})
		return changefeed.NewRedisOpener(client), func() { client.Close() }, nil

	case config.BrokerCockroach:
		return changefeed.NewCockroachOpener(cfg.Broker.Cockroach.URI), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported broker type %q", cfg.Broker.Type)
	}
}
