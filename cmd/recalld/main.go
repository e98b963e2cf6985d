// Recalld is a real-time identity-recognition daemon.
//
// Clients stream face crops over a persistent WebSocket and receive either
// a matched identity with contextual memory notes or an "unknown" signal.
// Known identities live in three tiers: a Qdrant remote store (the
// cross-process source of truth), a SQLite local mirror (the real-time
// truth for this process), and an in-memory match cache on the serving
// path.
//
// Usage:
//
//	# Start the daemon with defaults
//	recalld
//
//	# Configure via file and environment
//	recalld -config /etc/recalld/config.yaml
//	RECALLD_SERVER_PORT=9000 RECALLD_REMOTE_ENABLED=true recalld
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/extraction"
	"github.com/fyrsmithlabs/recalld/internal/faces"
	"github.com/fyrsmithlabs/recalld/internal/hub"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/matchcache"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
	"github.com/fyrsmithlabs/recalld/internal/mirror"
	"github.com/fyrsmithlabs/recalld/internal/people"
	"github.com/fyrsmithlabs/recalld/internal/recognizer"
	"github.com/fyrsmithlabs/recalld/internal/remote"
	"github.com/fyrsmithlabs/recalld/internal/server"
	"github.com/fyrsmithlabs/recalld/internal/services"
	"github.com/fyrsmithlabs/recalld/internal/transcribe"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/recalld/config.yaml)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld           Start the recalld daemon\n")
			fmt.Fprintf(os.Stderr, "  recalld version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("recalld by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run builds every dependency, performs the startup sync, and serves until
// ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting recalld",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("remote_enabled", cfg.Remote.Enabled),
	)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Local mirror: the real-time source of truth for this process.
	mirrorPath := cfg.Mirror.Path
	if mirrorPath == "" {
		mirrorPath, err = config.DefaultMirrorPath()
		if err != nil {
			return fmt.Errorf("failed to resolve mirror path: %w", err)
		}
	}
	store, err := mirror.Open(mirrorPath)
	if err != nil {
		return fmt.Errorf("failed to open mirror at %s: %w", mirrorPath, err)
	}
	defer store.Close()
	logger.Info(ctx, "mirror opened", zap.String("path", mirrorPath))

	// Remote store: optional, and its unreachability is a degradation,
	// never a startup failure.
	var remoteStore people.Remote
	if cfg.Remote.Enabled {
		rs, err := remote.New(&remote.Config{
			Host:           cfg.Remote.Host,
			Port:           cfg.Remote.Port,
			UseTLS:         cfg.Remote.UseTLS,
			APIKey:         cfg.Remote.APIKey,
			Collection:     cfg.Remote.Collection,
			VectorSize:     cfg.Faces.VectorSize,
			DialTimeout:    cfg.Remote.DialTimeout,
			RequestTimeout: cfg.Remote.RequestTimeout,
			RetryAttempts:  cfg.Remote.RetryAttempts,
		}, logger)
		if err != nil {
			logger.Warn(ctx, "remote store unavailable, running local-only", zap.Error(err))
		} else {
			defer rs.Close()
			remoteStore = rs
		}
	}

	provider, err := faces.NewClient(faces.Config{
		BaseURL: cfg.Faces.BaseURL,
		Timeout: cfg.Faces.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}

	cache := matchcache.New(cfg.Matcher.Threshold)
	h := hub.New(logger, m)

	peopleSvc, err := people.NewService(people.Options{
		Mirror:      store,
		Remote:      remoteStore,
		Cache:       cache,
		Faces:       provider,
		Broadcaster: h,
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("failed to create people service: %w", err)
	}

	if err := peopleSvc.SyncOnStart(ctx); err != nil {
		return fmt.Errorf("startup sync failed: %w", err)
	}
	if cfg.Demo.Seed {
		if err := peopleSvc.SeedDemoIfEmpty(ctx); err != nil {
			return fmt.Errorf("demo seeding failed: %w", err)
		}
	}

	recognizerSvc := recognizer.NewService(provider, cache, logger, m)

	extractionClient, err := extraction.NewClient(extraction.Config{
		BaseURL: cfg.Extraction.BaseURL,
		Model:   cfg.Extraction.Model,
		Timeout: cfg.Extraction.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create extraction client: %w", err)
	}

	transcribeClient, err := transcribe.NewClient(transcribe.Config{
		BaseURL: cfg.Transcribe.BaseURL,
		Model:   cfg.Transcribe.Model,
		Timeout: cfg.Transcribe.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}

	registry := services.NewRegistry(services.Options{
		People:     peopleSvc,
		Recognizer: recognizerSvc,
		Hub:        h,
		Extraction: extractionClient,
		Transcribe: transcribeClient,
	})

	srv, err := server.NewServer(registry, logger, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info(ctx, "backend ready",
		zap.Int("cached_identities", peopleSvc.CacheLen()),
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("ws_endpoint", "/ws"),
		zap.String("metrics_endpoint", "/metrics"),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		// Drain in-flight remote write-throughs before closing stores.
		peopleSvc.Wait()
		return nil
	})

	return g.Wait()
}
