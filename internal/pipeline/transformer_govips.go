//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/geometry"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, plan Plan) (Rendered, error) {
	select {
	case <-ctx.Done():
		return Rendered{}, ctx.Err()
	default:
	}

	if plan.Width <= 0 || plan.Height <= 0 {
		return Rendered{}, stageError("resample", fmt.Errorf("invalid target size %dx%d", plan.Width, plan.Height))
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Rendered{}, stageError("load", fmt.Errorf("decode source image: %w", err))
	}
	defer img.Close()

	if err := img.AutoRotate(); err != nil {
		return Rendered{}, stageError("load", fmt.Errorf("auto rotate: %w", err))
	}

	kernel, err := govipsKernel(plan.Filter)
	if err != nil {
		return Rendered{}, stageError("resample", err)
	}

	if plan.Crop != nil {
		if err := applyGovipsCrop(img, *plan.Crop, kernel); err != nil {
			return Rendered{}, stageError("crop", err)
		}
	}

	hscale := float64(plan.Width) / float64(img.Width())
	vscale := float64(plan.Height) / float64(img.Height())
	if err := img.ResizeWithVScale(hscale, vscale, kernel); err != nil {
		return Rendered{}, stageError("resample", fmt.Errorf("resize image: %w", err))
	}

	if sharpenEnabled(plan.Sharpen) {
		// libvips sharpen works on a sigma and a flat/jagged gain pair.
		gain := plan.Sharpen.Amount / 100
		if err := img.Sharpen(plan.Sharpen.Radius, gain, gain*2); err != nil {
			return Rendered{}, stageError("sharpen", fmt.Errorf("sharpen image: %w", err))
		}
	}

	format := normalizeOutputFormat(plan.Format)
	data, err := exportGovipsImage(img, format, plan.Quality)
	if err != nil {
		return Rendered{}, stageError("encode", err)
	}

	return Rendered{Data: data, Format: format, Width: img.Width(), Height: img.Height()}, nil
}

func applyGovipsCrop(img *vips.ImageRef, c geometry.Crop, kernel vips.Kernel) error {
	if c.Scale <= 0 {
		return fmt.Errorf("invalid crop scale %g", c.Scale)
	}
	if c.Scale != 1 {
		if err := img.Resize(c.Scale, kernel); err != nil {
			return fmt.Errorf("scale source: %w", err)
		}
	}

	x, y, w, h := c.Window()
	left := int(math.Round(x))
	top := int(math.Round(y))
	width := max(1, int(math.Round(w)))
	height := max(1, int(math.Round(h)))

	// A window reaching outside the scaled source is padded with transparency.
	if left < 0 || top < 0 || left+width > img.Width() || top+height > img.Height() {
		if err := img.AddAlpha(); err != nil {
			return fmt.Errorf("add alpha: %w", err)
		}
		padW := max(img.Width(), left+width) - min(0, left)
		padH := max(img.Height(), top+height) - min(0, top)
		if err := img.Embed(-min(0, left), -min(0, top), padW, padH, vips.ExtendBlack); err != nil {
			return fmt.Errorf("pad source: %w", err)
		}
		left -= min(0, left)
		top -= min(0, top)
	}

	if err := img.ExtractArea(left, top, width, height); err != nil {
		return fmt.Errorf("extract crop area: %w", err)
	}
	return nil
}

func govipsKernel(f domain.Filter) (vips.Kernel, error) {
	switch f {
	case domain.FilterBox:
		return vips.KernelNearest, nil
	case domain.FilterHamming:
		return vips.KernelLinear, nil
	case domain.FilterLanczos2:
		return vips.KernelLanczos2, nil
	case domain.FilterLanczos3:
		return vips.KernelLanczos3, nil
	case domain.FilterMKS2013, "":
		return vips.KernelMitchell, nil
	default:
		return vips.KernelAuto, fmt.Errorf("unknown resampling filter %q", f)
	}
}

func exportGovipsImage(img *vips.ImageRef, format string, quality float64) ([]byte, error) {
	q := encoderQuality(quality)
	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = q
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = q
		params.Lossless = quality >= 1
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case "gif":
		data, _, err := img.ExportGIF(vips.NewGifExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
		return data, nil
	case "tiff":
		data, _, err := img.ExportTiff(vips.NewTiffExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
