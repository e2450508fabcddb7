package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type InputImage struct {
	ID       string
	Filename string
	Data     []byte
	Width    int
	Height   int
}

func (i InputImage) Size() int {
	return len(i.Data)
}

// InputSnapshot is the frozen copy of an input image an output keeps.
type InputSnapshot struct {
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type CropSettings struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Zoom    float64 `json:"zoom"`
	MinZoom float64 `json:"min_zoom"`
}

// Scale is the zoom factor handed to the crop planner.
func (c CropSettings) Scale() float64 {
	if c.MinZoom <= 0 {
		return c.Zoom
	}
	return c.Zoom / c.MinZoom
}

func DefaultCrop() CropSettings {
	return CropSettings{X: 0.5, Y: 0.5, Zoom: 1, MinZoom: 1}
}

// ResamplingSettings and SharpenSettings use Enabled to mark a per-image
// override; disabled settings mirror the variant defaults.
type ResamplingSettings struct {
	Enabled bool    `json:"enabled"`
	Filter  Filter  `json:"filter"`
	Quality float64 `json:"quality"`
}

type SharpenSettings struct {
	Enabled   bool    `json:"enabled"`
	Amount    float64 `json:"amount"`
	Radius    float64 `json:"radius"`
	Threshold float64 `json:"threshold"`
}

// Overrides are per-image settings layered over a variant.
type Overrides struct {
	Crop       *CropSettings       `json:"crop,omitempty"`
	Resampling *ResamplingSettings `json:"resampling,omitempty"`
	Sharpening *SharpenSettings    `json:"sharpening,omitempty"`
}

// OverridesFrom carries the per-image settings of an existing output into a
// regeneration: its crop always, resampling and sharpening only when they
// were overridden.
func OverridesFrom(prev OutputImage) Overrides {
	crop := prev.Crop
	o := Overrides{Crop: &crop}
	if prev.Resampling.Enabled {
		r := prev.Resampling
		o.Resampling = &r
	}
	if prev.Sharpening.Enabled {
		s := prev.Sharpening
		o.Sharpening = &s
	}
	return o
}

// Merge layers next over o field by field.
func (o Overrides) Merge(next Overrides) Overrides {
	if next.Crop != nil {
		o.Crop = next.Crop
	}
	if next.Resampling != nil {
		o.Resampling = next.Resampling
	}
	if next.Sharpening != nil {
		o.Sharpening = next.Sharpening
	}
	return o
}

type EffectiveSettings struct {
	CropEnabled bool
	Crop        CropSettings
	Resampling  ResamplingSettings
	Sharpening  SharpenSettings
}

// Effective merges overrides over the variant. It must be called with a
// freshly read variant.
func Effective(v Variant, o *Overrides) EffectiveSettings {
	eff := EffectiveSettings{
		CropEnabled: v.Crop,
		Crop:        DefaultCrop(),
		Resampling:  ResamplingSettings{Filter: v.Filter, Quality: v.Quality},
		Sharpening: SharpenSettings{
			Amount:    v.SharpenAmount,
			Radius:    v.SharpenRadius,
			Threshold: v.SharpenThreshold,
		},
	}
	if o == nil {
		return eff
	}
	if o.Crop != nil {
		eff.CropEnabled = true
		eff.Crop = *o.Crop
	}
	if o.Resampling != nil && o.Resampling.Enabled {
		eff.Resampling = *o.Resampling
	}
	if o.Sharpening != nil && o.Sharpening.Enabled {
		eff.Sharpening = *o.Sharpening
	}
	return eff
}

type Payload struct {
	Data        []byte `json:"-"`
	ContentType string `json:"content_type"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

type OutputImage struct {
	ID               string             `json:"id"`
	Input            InputSnapshot      `json:"input"`
	VariantID        string             `json:"variant_id"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	Format           string             `json:"format"`
	Crop             CropSettings       `json:"crop"`
	Resampling       ResamplingSettings `json:"resampling"`
	Sharpening       SharpenSettings    `json:"sharpening"`
	Full             Payload            `json:"full"`
	Thumbnail        Payload            `json:"thumbnail"`
	ThumbnailAliased bool               `json:"thumbnail_aliased"`
	Filename         string             `json:"filename"`
	CreatedAt        time.Time          `json:"created_at"`
}

// JPEGForced reports whether lossy quality forced a JPEG container.
func (o OutputImage) JPEGForced() bool {
	return o.Resampling.Quality < 1
}

func OutputKey(inputID, variantID string) string {
	return inputID + "-" + variantID
}

// FormatFromFilename maps a filename extension onto an encoder name.
func FormatFromFilename(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "tif", "tiff":
		return "tiff"
	case "png", "gif", "bmp", "webp":
		return ext
	default:
		return ""
	}
}

func ContentTypeForFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "image/png"
	}
}
