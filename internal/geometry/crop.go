package geometry

// Crop is a crop canvas of Width x Height onto which the source, scaled by
// Scale, is drawn with its top-left corner at (OffsetX, OffsetY). Offsets are
// zero or negative while the window stays inside the source.
type Crop struct {
	Width   float64
	Height  float64
	OffsetX float64
	OffsetY float64
	Scale   float64
}

// Window returns the crop window in scaled-source coordinates.
func (c Crop) Window() (x, y, w, h float64) {
	return -c.OffsetX, -c.OffsetY, c.Width, c.Height
}

// PlanCrop fits a window with the target's aspect ratio into the source and
// slides it across the scaled source by the focal point (0..1 per axis).
//
// With scale < 1 the window may leave the source bounds; the uncovered part
// of the canvas stays transparent. That region is reachable on purpose for
// zoomed-out compositions and is not clamped.
func PlanCrop(naturalW, naturalH, targetW, targetH int, focalX, focalY, scale float64) Crop {
	nw, nh := float64(naturalW), float64(naturalH)
	outRatio := float64(targetW) / float64(targetH)

	var cropW, cropH float64
	if nw/nh > outRatio {
		cropW = nh * outRatio
		cropH = nh
	} else {
		cropW = nw
		cropH = nw / outRatio
	}

	return Crop{
		Width:   cropW,
		Height:  cropH,
		OffsetX: lerp(0, -(nw*scale)+cropW, focalX),
		OffsetY: lerp(0, -(nh*scale)+cropH, focalY),
		Scale:   scale,
	}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
