package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextVariantName(t *testing.T) {
	assert.Equal(t, "Variant 1", NextVariantName(nil))
	assert.Equal(t, "Variant 3", NextVariantName([]Variant{{Name: "Large"}, {Name: "Small"}}))
	assert.Equal(t, "Variant 8", NextVariantName([]Variant{
		{Name: "Variant 2"},
		{Name: "Variant 7"},
		{Name: "Hero"},
	}))
}

func TestParseAspectRatio(t *testing.T) {
	ratio, err := ParseAspectRatio("16:9")
	require.NoError(t, err)
	assert.InDelta(t, 16.0/9.0, ratio, 1e-9)

	ratio, err = ParseAspectRatio(" 1.5 : 1 ")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, ratio, 1e-9)

	for _, bad := range []string{"", "16x9", "0:9", "16:", "a:b", "16:9:1"} {
		_, err := ParseAspectRatio(bad)
		assert.Error(t, err, bad)
	}
}

func TestEffectiveSettings(t *testing.T) {
	v := DefaultVariant()
	v.Crop = false
	v.Filter = FilterBox
	v.Quality = 0.8
	v.SharpenAmount = 50

	eff := Effective(v, nil)
	assert.False(t, eff.CropEnabled)
	assert.Equal(t, DefaultCrop(), eff.Crop)
	assert.Equal(t, ResamplingSettings{Filter: FilterBox, Quality: 0.8}, eff.Resampling)
	assert.False(t, eff.Sharpening.Enabled)
	assert.Equal(t, 50.0, eff.Sharpening.Amount)

	crop := CropSettings{X: 0, Y: 1, Zoom: 2, MinZoom: 1}
	eff = Effective(v, &Overrides{
		Crop:       &crop,
		Resampling: &ResamplingSettings{Enabled: false, Filter: FilterHamming, Quality: 0.1},
		Sharpening: &SharpenSettings{Enabled: true, Amount: 120, Radius: 1, Threshold: 3},
	})
	assert.True(t, eff.CropEnabled)
	assert.Equal(t, crop, eff.Crop)
	assert.Equal(t, FilterBox, eff.Resampling.Filter, "disabled resampling override is ignored")
	assert.True(t, eff.Sharpening.Enabled)
	assert.Equal(t, 120.0, eff.Sharpening.Amount)
}

func TestOverridesFrom(t *testing.T) {
	prev := OutputImage{
		Crop:       CropSettings{X: 0.2, Y: 0.3, Zoom: 2, MinZoom: 1},
		Resampling: ResamplingSettings{Enabled: true, Filter: FilterBox, Quality: 0.5},
		Sharpening: SharpenSettings{Enabled: false, Amount: 10},
	}
	o := OverridesFrom(prev)
	require.NotNil(t, o.Crop)
	assert.Equal(t, prev.Crop, *o.Crop)
	require.NotNil(t, o.Resampling)
	assert.Nil(t, o.Sharpening)

	sharpen := SharpenSettings{Enabled: true, Amount: 90, Radius: 1, Threshold: 0}
	merged := o.Merge(Overrides{Sharpening: &sharpen})
	assert.Equal(t, o.Crop, merged.Crop)
	assert.Equal(t, &sharpen, merged.Sharpening)
}

func TestCropScale(t *testing.T) {
	assert.Equal(t, 2.0, CropSettings{Zoom: 3, MinZoom: 1.5}.Scale())
	assert.Equal(t, 1.2, CropSettings{Zoom: 1.2}.Scale())
}

func TestFormatFromFilename(t *testing.T) {
	assert.Equal(t, "jpeg", FormatFromFilename("a.JPG"))
	assert.Equal(t, "jpeg", FormatFromFilename("a.b.jpeg"))
	assert.Equal(t, "png", FormatFromFilename("photo.png"))
	assert.Equal(t, "tiff", FormatFromFilename("scan.tif"))
	assert.Equal(t, "", FormatFromFilename("README"))
}

func TestValidationErrorsUnwrap(t *testing.T) {
	err := error(ValidationErrors{
		{Position: 2, Field: "quality", Message: "Quality must be between 0 and 1."},
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, 2, verr.Position)
	assert.Contains(t, err.Error(), "variant No. 2")
}

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "a-v1", OutputKey("a", "v1"))
}

func TestVariantCloneCopiesDimensionValues(t *testing.T) {
	v := DefaultVariant()
	v.Width.Value = Px(100)

	c := v.Clone()
	*c.Width.Value = 999
	assert.Equal(t, 100.0, *v.Width.Value)
	assert.Nil(t, c.Height.Value)
}
