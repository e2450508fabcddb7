// Package app wires the stores, pipeline, batch runner and export target
// from configuration. Both binaries start from Build.
package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/batch"
	"github.com/dunamismax/variantforge/internal/config"
	"github.com/dunamismax/variantforge/internal/export"
	"github.com/dunamismax/variantforge/internal/pipeline"
	"github.com/dunamismax/variantforge/internal/storage"
	"github.com/dunamismax/variantforge/internal/store"
)

type App struct {
	Variants  *store.VariantStore
	Inputs    *store.InputStore
	Registry  *store.OutputRegistry
	Processor *pipeline.Processor
	Runner    *batch.Runner
	Exporter  *export.Exporter
	// Repository is nil when no database is configured.
	Repository *store.PostgresVariantRepository

	logger *zap.Logger
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := pipeline.Startup(cfg.Generate.Concurrency); err != nil {
		return nil, fmt.Errorf("start image engine: %w", err)
	}

	a := &App{
		Variants: store.NewVariantStore(),
		Inputs:   store.NewInputStore(),
		Registry: store.NewOutputRegistry(logger.Named("registry")),
		logger:   logger,
	}

	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		repo, err := store.NewPostgresVariantRepository(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		variants, err := repo.Load(ctx)
		if err != nil {
			_ = repo.Close()
			return nil, err
		}
		a.Variants.ReplaceAll(variants)
		a.Repository = repo
		logger.Info("variants loaded from postgres", zap.Int("variants", len(variants)))
	}

	processor, err := pipeline.NewProcessor(
		logger.Named("pipeline"),
		a.Variants,
		a.Inputs,
		a.Registry,
		nil,
		cfg.Generate.ThumbnailSize,
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Processor = processor
	a.Runner = batch.NewRunner(logger.Named("batch"), processor, a.Variants, cfg.Generate.Concurrency)

	target, err := NewTarget(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Exporter = export.NewExporter(logger.Named("export"), target)

	return a, nil
}

// NewTarget builds the export destination named by cfg.Export.Target.
func NewTarget(ctx context.Context, cfg config.Config) (export.Target, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Export.Target)) {
	case "", "local":
		return export.LocalDir{Dir: cfg.Export.LocalDir}, nil
	case "minio":
		client, err := storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			Prefix:   cfg.Storage.Prefix,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return export.ObjectStore{Storage: client}, nil
	default:
		return nil, fmt.Errorf("unknown export target %q", cfg.Export.Target)
	}
}

// Close stops the batch pool and releases the database and image engine.
func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Close()
	}
	if a.Repository != nil {
		if err := a.Repository.Close(); err != nil {
			a.logger.Warn("postgres close failed", zap.Error(err))
		}
	}
	pipeline.Shutdown()
}
