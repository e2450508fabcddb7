// Package batch generates outputs for many input/variant pairs on a bounded
// worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/pipeline"
)

type Generator interface {
	Generate(ctx context.Context, inputID, variantID string) (pipeline.Result, error)
	Regenerate(ctx context.Context, outputID string, overrides domain.Overrides) (pipeline.Result, error)
	Refresh(ctx context.Context, inputID, variantID string) (pipeline.Result, error)
}

type VariantLister interface {
	List() []domain.Variant
}

type Failure struct {
	InputID   string
	VariantID string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("input %s variant %s: %v", f.InputID, f.VariantID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

type Report struct {
	Generated []domain.OutputImage
	Skipped   int
	Failures  []Failure
}

// Err joins every failure of the batch, or returns nil.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

type Runner struct {
	logger    *zap.Logger
	generator Generator
	variants  VariantLister
	pool      pond.Pool
	metrics   *metrics
	tracer    trace.Tracer
}

func NewRunner(logger *zap.Logger, generator Generator, variants VariantLister, concurrency int) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:    logger,
		generator: generator,
		variants:  variants,
		pool:      pond.NewPool(max(1, concurrency)),
		metrics:   newMetrics(),
		tracer:    otel.Tracer("variantforge/batch"),
	}
}

// Run generates every current variant for every input. Pairs run
// concurrently and fail independently; Run waits for all of them.
func (r *Runner) Run(ctx context.Context, inputIDs []string) Report {
	variants := r.variants.List()
	variantIDs := make([]string, 0, len(variants))
	for _, v := range variants {
		variantIDs = append(variantIDs, v.ID)
	}
	return r.runPairs(ctx, "generate", inputIDs, variantIDs, r.generator.Generate)
}

// Refresh rebuilds the outputs of one variant for every input, replacing
// the ones already stored. It follows an edit of the variant.
func (r *Runner) Refresh(ctx context.Context, inputIDs []string, variantID string) Report {
	return r.runPairs(ctx, "refresh", inputIDs, []string{variantID}, r.generator.Refresh)
}

func (r *Runner) runPairs(
	ctx context.Context,
	mode string,
	inputIDs, variantIDs []string,
	fn func(ctx context.Context, inputID, variantID string) (pipeline.Result, error),
) Report {
	ctx, span := r.tracer.Start(ctx, "batch."+mode)
	span.SetAttributes(
		attribute.Int("batch.inputs", len(inputIDs)),
		attribute.Int("batch.variants", len(variantIDs)),
	)
	defer span.End()
	r.metrics.batchesTotal.Inc()

	var (
		mu     sync.Mutex
		report Report
	)
	group := r.pool.NewGroup()
	for _, inputID := range inputIDs {
		for _, variantID := range variantIDs {
			inputID, variantID := inputID, variantID
			group.Submit(func() {
				res, err := r.generate(ctx, mode, func() (pipeline.Result, error) {
					return fn(ctx, inputID, variantID)
				})

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					report.Failures = append(report.Failures, Failure{InputID: inputID, VariantID: variantID, Err: err})
					r.logger.Error("generation failed",
						zap.String("mode", mode),
						zap.String("input_id", inputID),
						zap.String("variant_id", variantID),
						zap.Error(err),
					)
				case res.Skipped:
					report.Skipped++
				default:
					report.Generated = append(report.Generated, res.Image)
				}
			})
		}
	}
	if err := group.Wait(); err != nil {
		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.Int("batch.generated", len(report.Generated)),
		attribute.Int("batch.skipped", report.Skipped),
		attribute.Int("batch.failed", len(report.Failures)),
	)
	if len(report.Failures) > 0 {
		span.SetStatus(codes.Error, "batch had failures")
	}
	r.logger.Info("batch finished",
		zap.String("mode", mode),
		zap.Int("inputs", len(inputIDs)),
		zap.Int("variants", len(variantIDs)),
		zap.Int("generated", len(report.Generated)),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failures)),
	)
	return report
}

// Regenerate replaces one output with overrides applied, on the caller's
// goroutine.
func (r *Runner) Regenerate(ctx context.Context, outputID string, overrides domain.Overrides) (pipeline.Result, error) {
	return r.generate(ctx, "regenerate", func() (pipeline.Result, error) {
		return r.generator.Regenerate(ctx, outputID, overrides)
	})
}

func (r *Runner) generate(ctx context.Context, mode string, fn func() (pipeline.Result, error)) (pipeline.Result, error) {
	startedAt := time.Now()
	r.metrics.activeGenerations.Inc()
	defer r.metrics.activeGenerations.Dec()

	var (
		res pipeline.Result
		err error
	)
	if err = ctx.Err(); err == nil {
		res, err = fn()
	}

	outcome := "generated"
	switch {
	case err != nil:
		outcome = "failed"
		r.metrics.failuresTotal.WithLabelValues(failureStage(err)).Inc()
	case res.Skipped:
		outcome = "skipped"
	default:
		r.metrics.outputBytesTotal.Add(float64(res.Image.Full.Bytes))
	}
	r.metrics.generationsTotal.WithLabelValues(mode, outcome).Inc()
	r.metrics.generationDuration.WithLabelValues(mode, outcome).Observe(time.Since(startedAt).Seconds())
	return res, err
}

func failureStage(err error) string {
	var (
		decodeErr    *domain.DecodeError
		transformErr *domain.TransformError
	)
	switch {
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &transformErr):
		return transformErr.Stage
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

func (r *Runner) Gatherer() prometheus.Gatherer {
	return r.metrics.Gatherer()
}

// Close waits for running generations and stops the pool.
func (r *Runner) Close() {
	r.pool.StopAndWait()
}
