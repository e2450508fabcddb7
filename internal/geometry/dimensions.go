package geometry

import (
	"math"

	"github.com/dunamismax/variantforge/internal/domain"
)

type Size struct {
	Width  int
	Height int
}

// Resolve maps a natural image size and a variant's width/height specs onto
// the output size. Results are rounded up to whole pixels and never drop
// below 1x1.
func Resolve(naturalWidth, naturalHeight int, width, height domain.Dimension) Size {
	if naturalWidth <= 0 || naturalHeight <= 0 {
		return Size{Width: max(1, naturalWidth), Height: max(1, naturalHeight)}
	}

	nw, nh := float64(naturalWidth), float64(naturalHeight)
	w, hasWidth := width.Provided()
	h, hasHeight := height.Provided()

	var fw, fh float64
	switch {
	case hasWidth && hasHeight:
		fw, fh = resolveBoth(nw, nh, w, width.Mode, h, height.Mode)
	case hasWidth:
		fw = w
		if width.Mode == domain.DimensionUpto {
			fw = math.Min(w, nw)
		}
		fh = fw * nh / nw
	case hasHeight:
		fh = h
		if height.Mode == domain.DimensionUpto {
			fh = math.Min(h, nh)
		}
		fw = fh * nw / nh
	default:
		fw, fh = nw, nh
	}

	return Size{Width: ceilPixels(fw), Height: ceilPixels(fh)}
}

func resolveBoth(nw, nh, w float64, wMode domain.DimensionMode, h float64, hMode domain.DimensionMode) (float64, float64) {
	switch {
	case wMode == domain.DimensionUpto && hMode == domain.DimensionUpto:
		if nw/nh > w/h {
			fw := math.Min(w, nw)
			return fw, fw * nh / nw
		}
		fh := math.Min(h, nh)
		return fh * nw / nh, fh
	case wMode == domain.DimensionUpto:
		return math.Min(w, h*nw/nh), h
	case hMode == domain.DimensionUpto:
		return w, math.Min(h, w*nh/nw)
	default:
		return w, h
	}
}

// ceilPixels rounds up, ignoring float noise below a billionth of a pixel so
// 222.00000000000003 stays 222.
func ceilPixels(v float64) int {
	px := int(math.Ceil(v - 1e-9))
	if px < 1 {
		return 1
	}
	return px
}
