package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clinimage/imagingd/config"
	"github.com/clinimage/imagingd/intake"
	"github.com/clinimage/imagingd/jobs"
	"github.com/clinimage/imagingd/matching"
	"github.com/clinimage/imagingd/records"
	"github.com/clinimage/imagingd/report"
	"github.com/clinimage/imagingd/server"
	"github.com/clinimage/imagingd/services"
	"github.com/clinimage/imagingd/types"
	"github.com/clinimage/imagingd/worklist"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "imagingd",
		Short: "DICOM intake and workflow engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the worklist and storage listeners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := records.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := records.Migrate(ctx, pool)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	if err := cfg.ValidateServe(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := records.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store := records.NewStore(pool)

	// Background workers.
	queue := jobs.NewQueue(cfg.JobWorkers, cfg.JobWorkers*16, logger.With().Str("component", "jobs").Logger())
	queue.Start(ctx)
	defer queue.Shutdown()
	thumbs := jobs.NewThumbnailer(store, cfg.ThumbPath, cfg.ThumbnailSize, logger.With().Str("component", "thumbnails").Logger())

	// Domain services.
	reports := report.NewController(store, logger.With().Str("component", "reports").Logger())
	engine := matching.NewEngine(store, reports, logger.With().Str("component", "matching").Logger())
	pipeline := intake.NewPipeline(intake.Config{
		StoragePath:     cfg.StoragePath,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxStorageBytes: cfg.MaxStorageBytes,
	}, store, engine, queue, thumbs, logger.With().Str("component", "intake").Logger())
	responder := worklist.NewResponder(store, logger.With().Str("component", "worklist").Logger())

	// Worklist listener: C-ECHO and MWL C-FIND.
	worklistRegistry := services.NewRegistry(logger)
	worklistRegistry.Register(types.VerificationSOPClass, services.NewEchoService(logger))
	worklistRegistry.Register(types.ModalityWorklistInformationModelFind, responder)

	// Storage listener: C-ECHO and C-STORE for every storage SOP class.
	storageRegistry := services.NewRegistry(logger)
	storageRegistry.Register(types.VerificationSOPClass, services.NewEchoService(logger))
	for _, sopClass := range types.StorageSOPClasses() {
		storageRegistry.Register(sopClass, pipeline)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.ListenAndServe(ctx, cfg.WorklistAddr, cfg.AETitle, worklistRegistry,
			server.WithLogger(logger.With().Str("listener", "worklist").Logger()),
			server.WithIdleTimeout(cfg.IdleTimeout),
			server.WithMaxPDULength(cfg.MaxPDULength),
			server.WithTransferSyntaxes(types.WorklistTransferSyntaxes()),
		)
	})
	group.Go(func() error {
		return server.ListenAndServe(ctx, cfg.StorageAddr, cfg.AETitle, storageRegistry,
			server.WithLogger(logger.With().Str("listener", "storage").Logger()),
			server.WithIdleTimeout(cfg.IdleTimeout),
			server.WithMaxPDULength(cfg.MaxPDULength),
			server.WithTransferSyntaxes(types.StorageTransferSyntaxes()),
		)
	})

	logger.Info().
		Str("worklist_addr", cfg.WorklistAddr).
		Str("storage_addr", cfg.StorageAddr).
		Str("ae_title", cfg.AETitle).
		Msg("imagingd started")

	err = group.Wait()
	if err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("listener terminated unexpectedly")
		return err
	}
	logger.Info().Msg("imagingd shutdown complete")
	return nil
}
