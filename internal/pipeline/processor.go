package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/filename"
	"github.com/dunamismax/variantforge/internal/geometry"
	"github.com/dunamismax/variantforge/internal/store"
)

const (
	DefaultThumbnailSize = 400

	thumbnailFilter      = domain.FilterMKS2013
	thumbnailJPEGQuality = 0.9
)

type VariantSource interface {
	Get(id string) (domain.Variant, bool)
	List() []domain.Variant
}

type InputSource interface {
	Get(id string) (domain.InputImage, bool)
	IndexOf(id string) (int, bool)
}

type Registry interface {
	Exists(key, stage string) bool
	Admit(out domain.OutputImage) error
	Put(out domain.OutputImage)
	Get(id string) (domain.OutputImage, bool)
	Remove(id string) bool
}

// Result is the outcome of one input/variant generation. Skipped marks a
// duplicate that was dropped at either registry check.
type Result struct {
	Image   domain.OutputImage
	Skipped bool
}

type Processor struct {
	logger        *zap.Logger
	variants      VariantSource
	inputs        InputSource
	registry      Registry
	transformer   Transformer
	thumbnailSize int
	tracer        trace.Tracer
	now           func() time.Time
}

func NewProcessor(
	logger *zap.Logger,
	variants VariantSource,
	inputs InputSource,
	registry Registry,
	transformer Transformer,
	thumbnailSize int,
) (*Processor, error) {
	if variants == nil || inputs == nil || registry == nil {
		return nil, errors.New("variant source, input source and registry are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if transformer == nil {
		t, err := newTransformer()
		if err != nil {
			return nil, fmt.Errorf("build transformer: %w", err)
		}
		transformer = t
	}
	if thumbnailSize <= 0 {
		thumbnailSize = DefaultThumbnailSize
	}

	return &Processor{
		logger:        logger,
		variants:      variants,
		inputs:        inputs,
		registry:      registry,
		transformer:   transformer,
		thumbnailSize: thumbnailSize,
		tracer:        otel.Tracer("variantforge/pipeline"),
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Generate renders input through the variant with the given id and admits
// the result unless an output for the pair already exists.
func (p *Processor) Generate(ctx context.Context, inputID, variantID string) (Result, error) {
	return p.generate(ctx, inputID, variantID, nil, true)
}

// Regenerate renders the pair again with per-image overrides layered over the
// settings of the existing output, replacing it in the registry.
func (p *Processor) Regenerate(ctx context.Context, outputID string, overrides domain.Overrides) (Result, error) {
	prev, ok := p.registry.Get(outputID)
	if !ok {
		return Result{}, domain.OutputNotFound(outputID)
	}
	merged := domain.OverridesFrom(prev).Merge(overrides)
	return p.generate(ctx, prev.Input.ID, prev.VariantID, &merged, false)
}

// Refresh renders the pair from the current variant settings and replaces
// any output already stored for it. A generation still running on settings
// read before the call loses to the refreshed output: its admit finds the key
// taken, or its result is overwritten. When the refresh fails the previous
// output is dropped rather than left describing old settings.
func (p *Processor) Refresh(ctx context.Context, inputID, variantID string) (Result, error) {
	res, err := p.generate(ctx, inputID, variantID, nil, false)
	if err != nil {
		p.registry.Remove(domain.OutputKey(inputID, variantID))
	}
	return res, err
}

// GenerateForInput runs every current variant against one input. Each pair
// fails on its own; the returned error joins all failures.
func (p *Processor) GenerateForInput(ctx context.Context, inputID string) ([]Result, error) {
	variants := p.variants.List()
	results := make([]Result, 0, len(variants))
	var errs []error
	for _, v := range variants {
		res, err := p.Generate(ctx, inputID, v.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("variant %s: %w", v.ID, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (p *Processor) generate(ctx context.Context, inputID, variantID string, overrides *domain.Overrides, dedupe bool) (res Result, err error) {
	key := domain.OutputKey(inputID, variantID)

	ctx, span := p.tracer.Start(ctx, "pipeline.generate")
	span.SetAttributes(
		attribute.String("output.key", key),
		attribute.String("input.id", inputID),
		attribute.String("variant.id", variantID),
		attribute.Bool("output.dedupe", dedupe),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
		}
		span.SetAttributes(attribute.Bool("output.skipped", res.Skipped))
		span.End()
	}()

	if dedupe && p.registry.Exists(key, store.StagePrecheck) {
		return Result{Skipped: true}, nil
	}

	input, ok := p.inputs.Get(inputID)
	if !ok {
		return Result{}, domain.InputNotFound(inputID)
	}

	info, err := Probe(input.Data)
	if err != nil {
		return Result{}, &domain.DecodeError{Filename: input.Filename, Err: err}
	}

	// Variant settings are read here and again before sealing so edits made
	// while the resample runs are honored.
	variant, ok := p.variants.Get(variantID)
	if !ok {
		return Result{}, domain.VariantNotFound(variantID)
	}

	settings := domain.Effective(variant, overrides)
	size := geometry.Resolve(info.Width, info.Height, variant.Width, variant.Height)
	format := outputFormat(input.Filename, info.Format, settings.Resampling.Quality)

	plan := Plan{
		Width:   size.Width,
		Height:  size.Height,
		Filter:  settings.Resampling.Filter,
		Quality: settings.Resampling.Quality,
		Format:  format,
		Sharpen: settings.Sharpening,
	}
	if settings.CropEnabled {
		crop := geometry.PlanCrop(info.Width, info.Height, size.Width, size.Height,
			settings.Crop.X, settings.Crop.Y, settings.Crop.Scale())
		plan.Crop = &crop
	}

	full, err := p.transformer.Transform(ctx, input.Data, plan)
	if err != nil {
		var terr *domain.TransformError
		if errors.As(err, &terr) && terr.Stage == "load" {
			return Result{}, &domain.DecodeError{Filename: input.Filename, Err: terr.Err}
		}
		return Result{}, asTransformError("resample", err)
	}

	variant, ok = p.variants.Get(variantID)
	if !ok {
		return Result{}, domain.VariantNotFound(variantID)
	}

	thumb, aliased, err := p.thumbnail(ctx, full)
	if err != nil {
		return Result{}, asTransformError("thumbnail", err)
	}

	if dedupe && p.registry.Exists(key, store.StageSeal) {
		return Result{Skipped: true}, nil
	}

	index, ok := p.inputs.IndexOf(inputID)
	if !ok {
		return Result{}, domain.InputNotFound(inputID)
	}

	out := domain.OutputImage{
		ID: key,
		Input: domain.InputSnapshot{
			ID:       input.ID,
			Index:    index,
			Filename: input.Filename,
			Size:     input.Size(),
			Width:    info.Width,
			Height:   info.Height,
		},
		VariantID:        variantID,
		Width:            full.Width,
		Height:           full.Height,
		Format:           full.Format,
		Crop:             settings.Crop,
		Resampling:       settings.Resampling,
		Sharpening:       settings.Sharpening,
		Full:             payload(full),
		Thumbnail:        payload(thumb),
		ThumbnailAliased: aliased,
		CreatedAt:        p.now(),
	}
	out.Filename = filename.Resolve(variant, out)

	if !dedupe {
		p.registry.Put(out)
	} else if err := p.registry.Admit(out); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return Result{Skipped: true}, nil
		}
		return Result{}, err
	}

	p.logger.Debug("output image sealed",
		zap.String("key", key),
		zap.String("filename", out.Filename),
		zap.Int("width", out.Width),
		zap.Int("height", out.Height),
		zap.Bool("replaced", !dedupe),
	)
	return Result{Image: out}, nil
}

// thumbnail bounds the full rendition to the thumbnail size. When the full
// image already fits, it is reused as is.
func (p *Processor) thumbnail(ctx context.Context, full Rendered) (Rendered, bool, error) {
	if full.Width <= p.thumbnailSize && full.Height <= p.thumbnailSize {
		return full, true, nil
	}

	bound := domain.Dimension{Mode: domain.DimensionUpto, Value: domain.Px(float64(p.thumbnailSize))}
	size := geometry.Resolve(full.Width, full.Height, bound, bound)

	quality := 1.0
	if full.Format == "jpeg" {
		quality = thumbnailJPEGQuality
	}

	thumb, err := p.transformer.Transform(ctx, full.Data, Plan{
		Width:   size.Width,
		Height:  size.Height,
		Filter:  thumbnailFilter,
		Quality: quality,
		Format:  full.Format,
	})
	if err != nil {
		return Rendered{}, false, err
	}
	return thumb, false, nil
}

// outputFormat forces JPEG for lossy quality and otherwise keeps the format
// named by the input's extension, falling back to the sniffed format.
func outputFormat(inputFilename, sniffed string, quality float64) string {
	if quality < 1 {
		return "jpeg"
	}
	if f := domain.FormatFromFilename(inputFilename); f != "" {
		return f
	}
	return normalizeOutputFormat(sniffed)
}

func asTransformError(stage string, err error) error {
	var terr *domain.TransformError
	if errors.As(err, &terr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return stageError(stage, err)
}

func payload(r Rendered) domain.Payload {
	return domain.Payload{
		Data:        r.Data,
		ContentType: domain.ContentTypeForFormat(r.Format),
		Bytes:       len(r.Data),
		Width:       r.Width,
		Height:      r.Height,
	}
}
