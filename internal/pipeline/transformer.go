package pipeline

import (
	"context"
	"math"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/geometry"
)

// Plan is everything the resample engine needs for one rendition.
type Plan struct {
	Width  int
	Height int
	// Crop is nil when the source is resized without cropping.
	Crop    *geometry.Crop
	Filter  domain.Filter
	Quality float64
	Format  string
	Sharpen domain.SharpenSettings
}

type Rendered struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Transformer crops, resamples, sharpens and encodes one image. Failures are
// reported as *domain.TransformError naming the failing stage.
type Transformer interface {
	Transform(ctx context.Context, input []byte, plan Plan) (Rendered, error)
}

// NewTransformer returns the engine selected at build time.
func NewTransformer() (Transformer, error) {
	return newTransformer()
}

func normalizeOutputFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	case "jpeg", "png", "gif", "bmp", "tiff", "webp":
		return format
	default:
		return "png"
	}
}

// encoderQuality maps a 0..1 quality onto the 1..100 encoder scale.
func encoderQuality(q float64) int {
	return max(1, min(100, int(math.Round(q*100))))
}

func sharpenEnabled(s domain.SharpenSettings) bool {
	return s.Amount > 0
}

func stageError(stage string, err error) error {
	return &domain.TransformError{Stage: stage, Err: err}
}
