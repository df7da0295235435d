package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Palette selects the two-color side scheme of the heatmap.
type Palette string

const (
	PaletteClassic    Palette = "classic"
	PaletteColorblind Palette = "colorblind"
	PaletteNeon       Palette = "neon"
)

// ParsePalette validates a palette name
func ParsePalette(s string) (Palette, error) {
	switch p := Palette(s); p {
	case PaletteClassic, PaletteColorblind, PaletteNeon:
		return p, nil
	}
	return "", fmt.Errorf("unknown palette %q", s)
}

// SizeClass selects the min/max disc radius band.
type SizeClass string

const (
	SizeSmall  SizeClass = "small"
	SizeMedium SizeClass = "medium"
	SizeLarge  SizeClass = "large"
)

// ParseSizeClass validates a size class name
func ParseSizeClass(s string) (SizeClass, error) {
	switch c := SizeClass(s); c {
	case SizeSmall, SizeMedium, SizeLarge:
		return c, nil
	}
	return "", fmt.Errorf("unknown size class %q", s)
}

// RadiusBand returns the clamped disc radius range in pixels.
func (c SizeClass) RadiusBand() (min, max float64) {
	switch c {
	case SizeSmall:
		return 2, 8
	case SizeLarge:
		return 4, 22
	default:
		return 3, 14
	}
}

// PriceRange is the vertical domain of a frame.
type PriceRange struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// HeatmapConfig is derived per frame and never persisted.
type HeatmapConfig struct {
	PriceRange PriceRange    `json:"price_range"`
	TimeWindow time.Duration `json:"time_window"`
	Palette    Palette       `json:"palette"`
	SizeClass  SizeClass     `json:"size_class"`
}
