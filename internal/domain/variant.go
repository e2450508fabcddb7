package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

type DimensionMode string

const (
	DimensionExact DimensionMode = "exact"
	DimensionUpto  DimensionMode = "upto"
)

type Filter string

const (
	FilterBox      Filter = "box"
	FilterHamming  Filter = "hamming"
	FilterLanczos2 Filter = "lanczos2"
	FilterLanczos3 Filter = "lanczos3"
	FilterMKS2013  Filter = "mks2013"
)

var Filters = []Filter{FilterLanczos3, FilterBox, FilterHamming, FilterLanczos2, FilterMKS2013}

func (f Filter) Valid() bool {
	for _, known := range Filters {
		if f == known {
			return true
		}
	}
	return false
}

const (
	SharpenAmountMin    = 0.0
	SharpenAmountMax    = 500.0
	SharpenRadiusMin    = 0.5
	SharpenRadiusMax    = 2.0
	SharpenThresholdMin = 0.0
	SharpenThresholdMax = 255.0
)

// Dimension is one axis of a variant's target size. A nil or zero Value
// means the axis is left to the resolver.
type Dimension struct {
	Mode  DimensionMode `json:"mode" validate:"required,oneof=exact upto"`
	Value *float64      `json:"value,omitempty" validate:"omitempty,min=0"`
}

// Provided reports the requested value when one is set and positive.
func (d Dimension) Provided() (float64, bool) {
	if d.Value == nil || *d.Value <= 0 {
		return 0, false
	}
	return *d.Value, true
}

// Clone returns d with its own copy of Value.
func (d Dimension) Clone() Dimension {
	if d.Value != nil {
		d.Value = Px(*d.Value)
	}
	return d
}

func Px(v float64) *float64 {
	return &v
}

type AspectRatio struct {
	Enabled bool   `json:"enabled"`
	Value   string `json:"value"`
}

var aspectRatioPattern = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*:\s*(\d+(?:\.\d+)?)\s*$`)

// ParseAspectRatio parses "W:H" into width/height.
func ParseAspectRatio(value string) (float64, error) {
	m := aspectRatioPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("invalid aspect ratio %q: expected W:H", value)
	}
	w, _ := strconv.ParseFloat(m[1], 64)
	h, _ := strconv.ParseFloat(m[2], 64)
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q: both sides must be positive", value)
	}
	return w / h, nil
}

type Variant struct {
	ID               string      `json:"id" validate:"required"`
	Name             string      `json:"name" validate:"required"`
	Width            Dimension   `json:"width"`
	Height           Dimension   `json:"height"`
	AspectRatio      AspectRatio `json:"aspectRatio"`
	Crop             bool        `json:"crop"`
	Prefix           string      `json:"prefix"`
	Suffix           string      `json:"suffix"`
	Pattern          string      `json:"pattern"`
	Filter           Filter      `json:"filter" validate:"required,oneof=box hamming lanczos2 lanczos3 mks2013"`
	Quality          float64     `json:"quality" validate:"min=0,max=1"`
	SharpenAmount    float64     `json:"sharpenAmount"`
	SharpenRadius    float64     `json:"sharpenRadius"`
	SharpenThreshold float64     `json:"sharpenThreshold"`
	Index            int         `json:"index"`
}

// Clone returns a deep copy of v. A plain assignment shares the dimension
// values.
func (v Variant) Clone() Variant {
	v.Width = v.Width.Clone()
	v.Height = v.Height.Clone()
	return v
}

// DefaultVariant returns the settings a new variant starts with. ID and
// Name are left for the caller.
func DefaultVariant() Variant {
	return Variant{
		Width:            Dimension{Mode: DimensionUpto},
		Height:           Dimension{Mode: DimensionUpto},
		AspectRatio:      AspectRatio{Enabled: false, Value: "1:1"},
		Crop:             true,
		Filter:           FilterMKS2013,
		Quality:          1,
		SharpenAmount:    0,
		SharpenRadius:    0.6,
		SharpenThreshold: 2,
	}
}

var defaultNamePattern = regexp.MustCompile(`^Variant (\d+)$`)

// NextVariantName picks "Variant N" one past the highest default-named
// variant, or count+1 when none carry a default name.
func NextVariantName(variants []Variant) string {
	highest := 0
	matched := false
	for _, v := range variants {
		m := defaultNamePattern.FindStringSubmatch(v.Name)
		if m == nil {
			continue
		}
		matched = true
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	if matched {
		return fmt.Sprintf("Variant %d", highest+1)
	}
	return fmt.Sprintf("Variant %d", len(variants)+1)
}
