package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slidesmith/pptx-pipeline/internal/cache"
	"github.com/slidesmith/pptx-pipeline/internal/config"
	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/observability"
	"github.com/slidesmith/pptx-pipeline/internal/pipeline"
	"github.com/slidesmith/pptx-pipeline/internal/render"
	"github.com/slidesmith/pptx-pipeline/internal/server"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
	"github.com/slidesmith/pptx-pipeline/internal/thumbnail"
	"github.com/slidesmith/pptx-pipeline/internal/validate"
)

var serveLogFormat string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that accepts deck uploads, processes them through the rendering pipeline, and serves results and exports. Configuration comes from PPTX_* environment variables.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "json", "Log format: json or console")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      serveLogFormat,
		ServiceName: "pptx_processor",
	})

	ctx := context.Background()

	var gateway storage.Gateway
	var local *storage.Local
	switch cfg.StorageBackend {
	case "gcs":
		g, err := storage.NewGCS(ctx, cfg.GCSBucket)
		if err != nil {
			return fmt.Errorf("failed to create storage gateway: %w", err)
		}
		gateway = g
	default:
		l, err := storage.NewLocal(cfg.StorageDir, cfg.PublicURL, []byte(cfg.URLSigningSecret))
		if err != nil {
			return fmt.Errorf("failed to create storage gateway: %w", err)
		}
		gateway = l
		local = l
	}

	resultCache := cache.Disabled()
	if cfg.RedisAddr != "" {
		resultCache = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL, log)
	}
	defer resultCache.Close()

	var bridge *render.Bridge
	if cfg.BridgeURL != "" {
		bridge = render.NewBridge(cfg.BridgeURL, &render.BridgeOptions{
			CallTimeout:    cfg.BridgeCallTimeout,
			ConnectRetries: 3,
		}, log)
	} else {
		log.Warn().Msg("no renderer bridge configured, all slides use fallback rendering")
	}
	selector := render.NewSelector(bridge, &render.SelectorOptions{
		FailureThreshold: cfg.BreakerFailures,
		Cooldown:         cfg.BreakerCooldown,
	}, log)

	var jobStore jobs.Store
	if cfg.DatabaseURL != "" {
		pg, err := jobs.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
		jobStore = pg
	} else {
		log.Warn().Msg("no DATABASE_URL configured, job state is in memory only")
		jobStore = jobs.NewMemoryStore()
	}

	var thumbs pipeline.Thumbnailer
	if cfg.ThumbnailsEnabled {
		gen := thumbnail.New(30*time.Second, cfg.ThumbnailWidth)
		defer gen.Close()
		thumbs = gen
	}

	orch := jobs.NewOrchestrator(jobStore, &jobs.Options{
		Workers:    cfg.Workers,
		QueueDepth: cfg.QueueDepth,
		JobTimeout: cfg.JobTimeout,
	}, log)
	processor := pipeline.NewProcessor(gateway, selector, resultCache, thumbs, &pipeline.ProcessorOptions{
		Validate: &validate.Options{
			IoUCutoff:           cfg.IoUCutoff,
			SimilarityThreshold: cfg.SimilarityThreshold,
		},
		SlideParallelism: cfg.SlideParallelism,
	}, log)
	exporter := pipeline.NewExporter(gateway, log)
	orch.Register(jobs.KindProcess, processor.Handle)
	orch.Register(jobs.KindExport, exporter.Handle)
	orch.Start()

	srv := server.New(cfg, server.Deps{
		Store:    gateway,
		Local:    local,
		JobStore: jobStore,
		Orch:     orch,
		Renderer: selector,
		Cache:    resultCache,
		Log:      log,
	})
	return srv.Start()
}
