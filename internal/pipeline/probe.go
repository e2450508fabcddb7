package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrNotAnImage = errors.New("input is not a supported image")

// SourceInfo describes a decoded input without holding its pixels. Width and
// Height are the displayed size, after EXIF orientation.
type SourceInfo struct {
	MIME        string
	Extension   string
	Format      string
	Orientation int
	Width       int
	Height      int
}

// Probe sniffs and decodes the header of an input image.
func Probe(data []byte) (SourceInfo, error) {
	if len(data) == 0 {
		return SourceInfo{}, fmt.Errorf("%w: empty payload", ErrNotAnImage)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return SourceInfo{}, fmt.Errorf("%w: detected %s", ErrNotAnImage, mtype.String())
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return SourceInfo{}, fmt.Errorf("decode %s header: %w", mtype.String(), err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return SourceInfo{}, fmt.Errorf("%w: invalid dimensions %dx%d", ErrNotAnImage, cfg.Width, cfg.Height)
	}

	info := SourceInfo{
		MIME:        mtype.String(),
		Extension:   mtype.Extension(),
		Format:      normalizeOutputFormat(format),
		Orientation: 1,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}
	// The engines rotate JPEGs on load, so sizing must see the rotated axes.
	if info.Format == "jpeg" {
		info.Orientation = exifOrientation(data)
		if info.Orientation >= 5 && info.Orientation <= 8 {
			info.Width, info.Height = info.Height, info.Width
		}
	}
	return info, nil
}

// exifOrientation returns the EXIF orientation tag, or 1 when it is missing
// or unreadable.
func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}
