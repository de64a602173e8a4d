package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/kbask/internal/api/handlers"
	"github.com/cloo-solutions/kbask/internal/api/middleware"
	"github.com/cloo-solutions/kbask/internal/config"
	"github.com/cloo-solutions/kbask/internal/database"
	"github.com/cloo-solutions/kbask/internal/extract"
	"github.com/cloo-solutions/kbask/internal/jobs"
	"github.com/cloo-solutions/kbask/internal/logger"
	"github.com/cloo-solutions/kbask/internal/openai"
	"github.com/cloo-solutions/kbask/internal/repository"
	"github.com/cloo-solutions/kbask/internal/server"
	"github.com/cloo-solutions/kbask/internal/service"
	"github.com/cloo-solutions/kbask/internal/storage"
	"github.com/cloo-solutions/kbask/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const embeddingPollInterval = 5 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the kbask knowledge base API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBASK_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, FilePath: cfg.LogFile, JSON: true, Console: os.Stdout})
	defer func() { _ = log.Sync() }()

	sampleRate := 0.1
	if cfg.Environment == "development" {
		sampleRate = 1.0
	}
	flush := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	}, log)
	defer flush()

	pool, err := database.NewPool(ctx, database.Config{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ConnectAttempts: cfg.DBRetryCount,
	}, log.Named("database"))
	if err != nil {
		return err
	}
	defer pool.Close()

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		if err := database.NewMigrator(cfg.DatabaseURL, database.DefaultMigrationsDir, log.Named("migrate")).Up(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	kbRepo := repository.NewKnowledgeBaseRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)

	deps := service.Dependencies{
		Repo:      kbRepo,
		Chunks:    chunkRepo,
		Tx:        repository.NewTxRunner(pool),
		Extractor: extract.New(cfg.MaxContentChars),
		Logger:    log,
	}

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Info("object storage ready", zap.String("bucket", cfg.S3Bucket))
		deps.Store = s3Client
	} else {
		log.Warn("object storage not configured, original files will not be kept")
	}

	var embeddingWorker *jobs.Worker
	if cfg.HasOpenAI() {
		ai := openai.NewClientWithConfig(openai.Config{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			ChatModel: cfg.OpenAIChatModel,
		})
		deps.Embedder = ai
		deps.Answerer = ai

		processor := jobs.NewEmbeddingWorker(chunkRepo, ai, log.Named("embeddings"))
		embeddingWorker = jobs.NewWorker(processor, embeddingPollInterval, log.Named("worker"))
		deps.OnIndexed = embeddingWorker.Wake
		go embeddingWorker.Start(ctx)
	} else {
		log.Warn("OpenAI not configured, answering with keyword search and excerpts")
	}

	svc := service.NewKnowledgeBaseService(deps, service.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		TopK:           cfg.TopK,
	})

	var validator middleware.AuthValidator
	if cfg.APIKey != "" {
		validator = middleware.StaticKey(cfg.APIKey)
	} else {
		log.Warn("KBASK_API_KEY not set, the API is open")
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.NewRouter(server.RouterConfig{
			AuthValidator:        validator,
			KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(svc),
			MaxUploadBytes:       cfg.MaxUploadBytes,
			HealthCheck:          func(ctx context.Context) error { return database.Ping(ctx, pool) },
			Logger:               log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	if embeddingWorker != nil {
		embeddingWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
