// Command variants runs a variant set over local image files and exports the
// results in one pass.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/app"
	"github.com/dunamismax/variantforge/internal/config"
	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/id"
	"github.com/dunamismax/variantforge/internal/logging"
	"github.com/dunamismax/variantforge/internal/pipeline"
	"github.com/dunamismax/variantforge/internal/store"
	"github.com/dunamismax/variantforge/internal/validate"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "variants:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg := config.Load()

	fs := flag.NewFlagSet("variants", flag.ContinueOnError)
	fs.SetOutput(stderr)
	variantsPath := fs.String("variants", "", "JSON file with the variant definitions (required)")
	target := fs.String("target", cfg.Export.Target, "export target: local or minio")
	outDir := fs.String("out", cfg.Export.LocalDir, "output directory for the local target")
	concurrency := fs.Int("concurrency", cfg.Generate.Concurrency, "parallel generations")
	debug := fs.Bool("debug", cfg.Log.Debug, "debug logging")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: variants -variants variants.json [flags] image...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *variantsPath == "" || fs.NArg() == 0 {
		fs.Usage()
		return errors.New("a variants file and at least one image are required")
	}

	cfg.Export.Target = *target
	cfg.Export.LocalDir = *outDir
	cfg.Generate.Concurrency = *concurrency
	// The CLI works on the file it is given, never on a stored set.
	cfg.Database.DSN = ""

	logger, err := logging.New(logging.Config{Debug: *debug, Service: "variants"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	doc, err := os.ReadFile(*variantsPath)
	if err != nil {
		return fmt.Errorf("read variants: %w", err)
	}
	variants, err := validate.Import(doc)
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Variants.ReplaceAll(variants)

	ids, skipped := addInputs(a.Inputs, fs.Args(), stderr)

	report := a.Runner.Run(ctx, ids)
	written, exportErr := a.Exporter.Export(ctx, a.Registry.List(store.ListQuery{VariantOrder: a.Variants.Order()}))
	for _, e := range written {
		fmt.Fprintf(stderr, "%s\t%d bytes\n", e.Location, e.Bytes)
	}
	logger.Info("done",
		zap.Int("inputs", len(ids)),
		zap.Int("generated", len(report.Generated)),
		zap.Int("failures", len(report.Failures)),
		zap.Int("exported", len(written)),
	)

	return errors.Join(skipped, report.Err(), exportErr)
}

// addInputs loads every readable image into the store. Files that cannot be
// read or decoded are reported on stderr and skipped. Their errors come back
// joined so the run still exits non-zero.
func addInputs(inputs *store.InputStore, paths []string, stderr io.Writer) ([]string, error) {
	ids := make([]string, 0, len(paths))
	var errs []error
	skip := func(path string, err error) {
		errs = append(errs, err)
		fmt.Fprintf(stderr, "%s\tskipped: %v\n", path, err)
	}
	for _, p := range paths {
		name := filepath.Base(p)
		data, err := os.ReadFile(p)
		if err != nil {
			skip(p, fmt.Errorf("read input: %w", err))
			continue
		}
		info, err := pipeline.Probe(data)
		if err != nil {
			skip(p, &domain.DecodeError{Filename: name, Err: err})
			continue
		}
		img := domain.InputImage{
			ID:       id.New(),
			Filename: name,
			Data:     data,
			Width:    info.Width,
			Height:   info.Height,
		}
		if _, err := inputs.Add(img); err != nil {
			skip(p, err)
			continue
		}
		ids = append(ids, img.ID)
	}
	return ids, errors.Join(errs...)
}
