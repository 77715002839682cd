// main package for the voice-clone-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voice-clone-service/internal/config"
	"github.com/book-expert/voice-clone-service/internal/core"
	"github.com/book-expert/voice-clone-service/internal/engine"
	"github.com/book-expert/voice-clone-service/internal/gateway"
	"github.com/book-expert/voice-clone-service/internal/janitor"
	"github.com/book-expert/voice-clone-service/internal/notify"
	"github.com/book-expert/voice-clone-service/internal/registry"
	"github.com/book-expert/voice-clone-service/internal/store"
)

const startupHealthTimeout = 10 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "voice-clone-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig(configPath string, bootstrapLog *logger.Logger) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration file: %w", err)
		}

		return cfg, nil
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return cfg, nil
}

// connectNATS dials NATS when configured. Both returns are nil when the
// deployment runs without NATS.
func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	return natsConnection, nil
}

func buildStore(
	cfg *config.Config,
	natsConnection *nats.Conn,
	log *logger.Logger,
) (core.BlobStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendNATS:
		jetstreamContext, err := natsConnection.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to get JetStream context: %w", err)
		}

		natsStore, err := store.NewNATSStore(
			jetstreamContext,
			cfg.NATS.VoicesBucket,
			cfg.NATS.OutputsBucket,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS object store: %w", err)
		}

		return natsStore, nil
	default:
		fsStore, err := store.NewFSStore(
			cfg.Storage.Root,
			cfg.Storage.VoicesDir,
			cfg.Storage.OutputsDir,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem store: %w", err)
		}

		return fsStore, nil
	}
}

func buildRuntime(cfg *config.Config, log *logger.Logger) (engine.Runtime, error) {
	switch cfg.Engine.Runtime {
	case config.RuntimeCommand:
		runtime, err := engine.NewCommandRuntime(
			cfg.Engine.Binary,
			cfg.Engine.ModelPath,
			cfg.Storage.Root+"/speakers",
			cfg.Engine.UseGPU,
			log,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create command runtime: %w", err)
		}

		return runtime, nil
	default:
		timeout := time.Duration(cfg.Engine.TimeoutSeconds) * time.Second

		return engine.NewHTTPRuntime(cfg.Engine.ServiceURL, timeout), nil
	}
}

func buildPublisher(cfg *config.Config, natsConnection *nats.Conn) notify.Publisher {
	if natsConnection == nil {
		return notify.Nop{}
	}

	return notify.NewNATSPublisher(
		natsConnection,
		cfg.NATS.ProfileReadySubject,
		cfg.NATS.SynthesisCompletedSubject,
	)
}

func serve(ctx context.Context, cfg *config.Config, handler http.Handler, log *logger.Logger) error {
	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	serveErrs := make(chan error, 1)

	go func() {
		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serveErrs <- listenErr
		}

		close(serveErrs)
	}()

	log.System("Voice-clone service listening on %s", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
	case listenErr := <-serveErrs:
		if listenErr != nil {
			return fmt.Errorf("http server failed: %w", listenErr)
		}

		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down http server: %w", shutdownErr)
	}

	log.System("Voice-clone service stopped.")

	return nil
}

func run() error {
	configPath := flag.String("config", "", "path to a local TOML configuration file")
	flag.Parse()

	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := loadConfig(*configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return err
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	natsConnection, err := connectNATS(cfg)
	if err != nil {
		log.Error("NATS connection failed: %v", err)

		return err
	}

	if natsConnection != nil {
		defer natsConnection.Close()
	}

	blobStore, err := buildStore(cfg, natsConnection, log)
	if err != nil {
		log.Error("Storage setup failed: %v", err)

		return err
	}

	voiceRegistry, err := registry.Open(cfg.Registry.DatabasePath, log)
	if err != nil {
		log.Error("Registry setup failed: %v", err)

		return err
	}

	defer func() {
		closeErr := voiceRegistry.Close()
		if closeErr != nil {
			log.Error("Failed to close registry: %v", closeErr)
		}
	}()

	runtime, err := buildRuntime(cfg, log)
	if err != nil {
		log.Error("Runtime setup failed: %v", err)

		return err
	}

	healthCtx, healthCancel := context.WithTimeout(context.Background(), startupHealthTimeout)
	defer healthCancel()

	healthErr := runtime.Health(healthCtx)
	if healthErr != nil {
		// The runtime may still be loading its model; start anyway and
		// let /health report the current state.
		log.Warn("Model runtime not healthy at startup: %v", healthErr)
	}

	serialEngine := engine.NewSerial(runtime, engine.Limits{
		MaxQueueDepth:    cfg.Limits.MaxQueueDepth,
		MaxTextLength:    cfg.Limits.MaxTextLength,
		MinSampleSeconds: cfg.Limits.MinSampleSeconds,
	}, log)
	defer serialEngine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := janitor.New(
		voiceRegistry,
		blobStore,
		log,
		time.Duration(cfg.Limits.JobRetentionHours)*time.Hour,
		time.Duration(cfg.Limits.JanitorIntervalMinutes)*time.Minute,
	)

	go sweeper.Run(ctx)

	handler := gateway.New(gateway.Deps{
		Store:     blobStore,
		Registry:  voiceRegistry,
		Engine:    serialEngine,
		Runtime:   runtime,
		Publisher: buildPublisher(cfg, natsConnection),
		Log:       log,
	}, gateway.Settings{
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
		MaxTextLength:  cfg.Limits.MaxTextLength,
		Language:       cfg.Engine.Language,
		Temperature:    cfg.Engine.Temperature,
	})

	return serve(ctx, cfg, handler.Routes(), log)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
