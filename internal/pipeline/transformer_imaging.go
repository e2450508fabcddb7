package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/dunamismax/variantforge/internal/domain"
	"github.com/dunamismax/variantforge/internal/geometry"
)

type imagingTransformer struct{}

func (t imagingTransformer) Transform(ctx context.Context, input []byte, plan Plan) (Rendered, error) {
	select {
	case <-ctx.Done():
		return Rendered{}, ctx.Err()
	default:
	}

	if plan.Width <= 0 || plan.Height <= 0 {
		return Rendered{}, stageError("resample", fmt.Errorf("invalid target size %dx%d", plan.Width, plan.Height))
	}

	src, err := imaging.Decode(bytes.NewReader(input), imaging.AutoOrientation(true))
	if err != nil {
		return Rendered{}, stageError("load", fmt.Errorf("decode source image: %w", err))
	}

	filter, err := resampleFilter(plan.Filter)
	if err != nil {
		return Rendered{}, stageError("resample", err)
	}

	var img image.Image = src
	if plan.Crop != nil {
		img, err = cropCanvas(src, *plan.Crop, filter)
		if err != nil {
			return Rendered{}, stageError("crop", err)
		}
	}

	out := imaging.Resize(img, plan.Width, plan.Height, filter)
	if sharpenEnabled(plan.Sharpen) {
		out = unsharpMask(out, plan.Sharpen)
	}

	format := normalizeOutputFormat(plan.Format)
	data, err := encodeImaging(out, format, plan.Quality)
	if err != nil {
		return Rendered{}, stageError("encode", err)
	}

	bounds := out.Bounds()
	return Rendered{Data: data, Format: format, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

// cropCanvas draws the source, scaled by c.Scale, onto a transparent canvas of
// the crop size at the planned offset.
func cropCanvas(src image.Image, c geometry.Crop, filter imaging.ResampleFilter) (*image.NRGBA, error) {
	w := int(math.Round(c.Width))
	h := int(math.Round(c.Height))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid crop size %gx%g", c.Width, c.Height)
	}
	if c.Scale <= 0 {
		return nil, fmt.Errorf("invalid crop scale %g", c.Scale)
	}

	scaled := src
	if c.Scale != 1 {
		b := src.Bounds()
		sw := max(1, int(math.Round(float64(b.Dx())*c.Scale)))
		sh := max(1, int(math.Round(float64(b.Dy())*c.Scale)))
		scaled = imaging.Resize(src, sw, sh, filter)
	}

	canvas := imaging.New(w, h, color.NRGBA{})
	pos := image.Pt(int(math.Round(c.OffsetX)), int(math.Round(c.OffsetY)))
	return imaging.Paste(canvas, scaled, pos), nil
}

func resampleFilter(f domain.Filter) (imaging.ResampleFilter, error) {
	switch f {
	case domain.FilterBox:
		return imaging.Box, nil
	case domain.FilterHamming:
		return imaging.Hamming, nil
	case domain.FilterLanczos2:
		return lanczos2, nil
	case domain.FilterLanczos3:
		return imaging.Lanczos, nil
	case domain.FilterMKS2013, "":
		return mks2013, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter %q", f)
	}
}

var lanczos2 = imaging.ResampleFilter{
	Support: 2.0,
	Kernel: func(x float64) float64 {
		x = math.Abs(x)
		if x < 2.0 {
			return sinc(x) * sinc(x/2.0)
		}
		return 0
	},
}

// mks2013 is Magic Kernel Sharp 2013.
var mks2013 = imaging.ResampleFilter{
	Support: 2.5,
	Kernel: func(x float64) float64 {
		x = math.Abs(x)
		switch {
		case x >= 2.5:
			return 0
		case x >= 1.5:
			return -0.125 * (x - 2.5) * (x - 2.5)
		case x >= 0.5:
			return 0.25 * (4*x*x - 11*x + 7)
		default:
			return 1.0625 - 1.75*x*x
		}
	},
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// unsharpMask adds amount percent of the difference between img and its
// gaussian blur wherever that difference exceeds the threshold.
func unsharpMask(img *image.NRGBA, s domain.SharpenSettings) *image.NRGBA {
	blurred := imaging.Blur(img, s.Radius)
	amount := s.Amount / 100
	out := imaging.Clone(img)

	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			orig := float64(img.Pix[i+c])
			diff := orig - float64(blurred.Pix[i+c])
			if math.Abs(diff) < s.Threshold {
				continue
			}
			out.Pix[i+c] = clampChannel(orig + diff*amount)
		}
	}
	return out
}

func clampChannel(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func encodeImaging(img image.Image, format string, quality float64) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)

	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(encoderQuality(quality)))
	case "png":
		err = imaging.Encode(&buf, img, imaging.PNG)
	case "gif":
		err = imaging.Encode(&buf, img, imaging.GIF)
	case "bmp":
		err = imaging.Encode(&buf, img, imaging.BMP)
	case "tiff":
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{
			Lossless: quality >= 1,
			Quality:  float32(encoderQuality(quality)),
		})
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}

	return buf.Bytes(), nil
}
