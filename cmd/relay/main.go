package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/moroshma/AssetRelay/internal/config"
	grpcDelivery "github.com/moroshma/AssetRelay/internal/delivery/grpc"
	wsDelivery "github.com/moroshma/AssetRelay/internal/delivery/websocket"
	"github.com/moroshma/AssetRelay/internal/domain/repository"
	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/internal/metrics"
	memoryRepo "github.com/moroshma/AssetRelay/internal/repository/memory"
	minioRepo "github.com/moroshma/AssetRelay/internal/repository/minio"
	tarantoolRepo "github.com/moroshma/AssetRelay/internal/repository/tarantool"
	"github.com/moroshma/AssetRelay/internal/service/retention"
	"github.com/moroshma/AssetRelay/internal/upstream"
	"github.com/moroshma/AssetRelay/internal/upstream/cometd"
	natsSource "github.com/moroshma/AssetRelay/internal/upstream/nats"
	"github.com/moroshma/AssetRelay/internal/usecase"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "Path to configuration file (optional)")
)

func main() {
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting asset event relay",
		logger.Int("port", cfg.Server.Port),
		logger.Int("grpc_port", cfg.Server.GRPCPort),
		logger.String("upstream", cfg.Upstream.Kind),
		logger.String("topic", cfg.Upstream.Topic),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Vault client if enabled
	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		appLogger.Fatal("Failed to create Vault client", logger.Error(err))
	}
	if vaultClient != nil {
		appLogger.Info("Loading secrets from Vault", logger.String("address", cfg.Vault.Address))
		if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
			appLogger.Fatal("Failed to apply Vault secrets", logger.Error(err))
		}
	}

	m := metrics.New()
	relayHub := hub.New(hub.Config{
		QueueSize: cfg.Server.QueueSize,
		Overflow:  hub.OverflowPolicy(cfg.Server.Overflow),
	}, appLogger.Named("hub"), m)

	cursors, closeCursors := newCursorRepository(ctx, cfg, appLogger)
	defer closeCursors()

	var (
		archive repository.ArchiveRepository
		sweeper *retention.Service
	)
	if store := newArchiveRepository(ctx, cfg, appLogger); store != nil {
		archive = store
		sweeper = retention.NewService(store, retention.Config{
			Retention: cfg.MinIO.Retention,
			Interval:  cfg.MinIO.RetentionInterval,
		}, appLogger.Named("retention"))
		sweeper.Start(ctx)
	}

	source, err := newSource(cfg, appLogger.Named("upstream"))
	if err != nil {
		appLogger.Fatal("Failed to create upstream source", logger.Error(err))
	}
	defer source.Close()

	relayUC := usecase.NewRelayUseCase(source, relayHub, cursors, archive, m, appLogger.Named("relay"), usecase.RelayConfig{
		Topic:            cfg.Upstream.Topic,
		Replay:           cfg.Upstream.ReplayPolicy(),
		EventName:        cfg.Server.EventName,
		ResumeFromCursor: cfg.Upstream.ResumeFromCursor,
		ArchiveQueueSize: cfg.MinIO.QueueSize,
		Reconnect: usecase.ReconnectConfig{
			Enabled:         cfg.Upstream.Reconnect.Enabled,
			InitialInterval: cfg.Upstream.Reconnect.InitialInterval,
			MaxInterval:     cfg.Upstream.Reconnect.MaxInterval,
			MaxElapsed:      cfg.Upstream.Reconnect.MaxElapsed,
			Multiplier:      cfg.Upstream.Reconnect.Multiplier,
			Jitter:          cfg.Upstream.Reconnect.Jitter,
		},
	})

	// gRPC transport
	grpcServer := grpcDelivery.NewServer(
		grpcDelivery.NewRelayHandler(relayHub, m, appLogger.Named("grpc")),
		appLogger.Named("grpc"),
	)
	relayUC.OnStateChange(grpcServer.SetUpstreamState)

	// WebSocket transport
	wsHandler := wsDelivery.NewHandler(relayHub, wsDelivery.Config{
		WriteTimeout:  cfg.Server.WriteTimeout,
		PingInterval:  cfg.Server.PingInterval,
		ConnectRate:   cfg.Server.ConnectRate,
		ConnectBurst:  cfg.Server.ConnectBurst,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	}, m, appLogger.Named("websocket"))
	httpServer := wsDelivery.NewServer(wsDelivery.ServerConfig{
		Port:           cfg.Server.Port,
		Path:           cfg.Server.Path,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	}, wsHandler, relayUC, m, appLogger.Named("http"))

	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			appLogger.Error("HTTP server stopped", logger.Error(err))
			stop()
		}
	}()
	go func() {
		if err := grpcServer.ListenAndServe(cfg.Server.GRPCPort); err != nil {
			appLogger.Error("gRPC server stopped", logger.Error(err))
			stop()
		}
	}()

	// The relay keeps serving clients even if the upstream fails for good.
	var relayWG sync.WaitGroup
	relayWG.Add(1)
	go func() {
		defer relayWG.Done()
		if err := relayUC.Run(ctx); err != nil {
			appLogger.Error("Upstream relay stopped", logger.Error(err))
		}
	}()

	appLogger.Info("Ready to accept connections")
	<-ctx.Done()

	appLogger.Info("Received shutdown signal, shutting down gracefully...")
	relayWG.Wait()
	relayHub.Close()
	if sweeper != nil {
		sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP shutdown incomplete", logger.Error(err))
	}
	grpcServer.Stop()

	appLogger.Info("Relay stopped")
}

// newSource builds the upstream adapter selected by configuration
func newSource(cfg *config.Config, log *logger.Logger) (upstream.Source, error) {
	switch cfg.Upstream.Kind {
	case "nats":
		return natsSource.NewSource(natsSource.Config{
			URL:      cfg.Upstream.NATSURL,
			Username: cfg.Upstream.Username,
			Password: cfg.Upstream.Password,
			Timeout:  cfg.Upstream.RequestTimeout,
		}, log)
	default:
		return cometd.NewClient(cometd.Config{
			LoginURL:       cfg.Upstream.LoginURL,
			Username:       cfg.Upstream.Username,
			Password:       cfg.Upstream.Password,
			APIVersion:     cfg.Upstream.APIVersion,
			RequestTimeout: cfg.Upstream.RequestTimeout,
		}, log)
	}
}

// newCursorRepository returns Tarantool when enabled, memory otherwise
func newCursorRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.CursorRepository, func()) {
	if !cfg.Tarantool.Enabled {
		return memoryRepo.NewCursorRepository(), func() {}
	}

	log.Info("Connecting to Tarantool", logger.String("address", cfg.Tarantool.Address))
	repo, err := tarantoolRepo.NewRepository(&tarantoolRepo.Config{
		Address:  cfg.Tarantool.Address,
		User:     cfg.Tarantool.User,
		Password: cfg.Tarantool.Password,
		Timeout:  cfg.Tarantool.Timeout,
	}, log.Named("tarantool"))
	if err != nil {
		log.Fatal("Failed to connect to Tarantool", logger.Error(err))
	}
	if err := repo.Ping(ctx); err != nil {
		log.Fatal("Failed to ping Tarantool", logger.Error(err))
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to prepare cursor space", logger.Error(err))
	}
	log.Info("Connected to Tarantool")

	return repo, func() { _ = repo.Close() }
}

// newArchiveRepository returns the MinIO archive when enabled
func newArchiveRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) *minioRepo.Repository {
	if !cfg.MinIO.Enabled {
		return nil
	}

	log.Info("Connecting to MinIO",
		logger.String("endpoint", cfg.MinIO.Endpoint),
		logger.String("bucket", cfg.MinIO.BucketName),
	)
	repo, err := minioRepo.NewRepository(&minioRepo.Config{
		Endpoint:        cfg.MinIO.Endpoint,
		AccessKeyID:     cfg.MinIO.AccessKeyID,
		SecretAccessKey: cfg.MinIO.SecretAccessKey,
		UseSSL:          cfg.MinIO.UseSSL,
		BucketName:      cfg.MinIO.BucketName,
	}, log.Named("minio"))
	if err != nil {
		log.Fatal("Failed to create MinIO client", logger.Error(err))
	}
	if err := repo.EnsureBucket(ctx); err != nil {
		log.Fatal("Failed to ensure MinIO bucket", logger.Error(err))
	}
	log.Info("Connected to MinIO")

	return repo
}
