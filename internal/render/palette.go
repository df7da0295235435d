package render

import (
	"image/color"

	"orderflow/internal/domain"
)

// Scheme is the full color set of a palette.
type Scheme struct {
	Background color.NRGBA
	Buy        color.NRGBA
	Sell       color.NRGBA
	Guide      color.NRGBA // last-trade line
	Neutral    color.NRGBA // spread placeholder, grid
	Degraded   color.NRGBA // reconnecting overlay
	Fatal      color.NRGBA // closed overlay
}

var schemes = map[domain.Palette]Scheme{
	domain.PaletteClassic: {
		Background: color.NRGBA{13, 17, 23, 255},
		Buy:        color.NRGBA{38, 166, 91, 255},
		Sell:       color.NRGBA{220, 53, 69, 255},
		Guide:      color.NRGBA{255, 193, 7, 255},
		Neutral:    color.NRGBA{108, 117, 125, 255},
		Degraded:   color.NRGBA{255, 152, 0, 255},
		Fatal:      color.NRGBA{183, 28, 28, 255},
	},
	// Okabe-Ito blue/orange, distinguishable under deuteranopia and protanopia
	domain.PaletteColorblind: {
		Background: color.NRGBA{18, 18, 18, 255},
		Buy:        color.NRGBA{0, 114, 178, 255},
		Sell:       color.NRGBA{230, 159, 0, 255},
		Guide:      color.NRGBA{240, 228, 66, 255},
		Neutral:    color.NRGBA{153, 153, 153, 255},
		Degraded:   color.NRGBA{204, 121, 167, 255},
		Fatal:      color.NRGBA{213, 94, 0, 255},
	},
	domain.PaletteNeon: {
		Background: color.NRGBA{5, 5, 15, 255},
		Buy:        color.NRGBA{57, 255, 20, 255},
		Sell:       color.NRGBA{255, 20, 147, 255},
		Guide:      color.NRGBA{0, 255, 255, 255},
		Neutral:    color.NRGBA{120, 120, 160, 255},
		Degraded:   color.NRGBA{255, 255, 0, 255},
		Fatal:      color.NRGBA{255, 0, 60, 255},
	},
}

// SchemeFor returns the colors of p, falling back to classic.
func SchemeFor(p domain.Palette) Scheme {
	if s, ok := schemes[p]; ok {
		return s
	}
	return schemes[domain.PaletteClassic]
}

// SideColor returns the buy or sell color; unknown sides get the neutral color.
func (s Scheme) SideColor(side domain.Side) color.NRGBA {
	switch side {
	case domain.SideBuy:
		return s.Buy
	case domain.SideSell:
		return s.Sell
	default:
		return s.Neutral
	}
}

func withAlpha(c color.NRGBA, a uint8) color.NRGBA {
	c.A = a
	return c
}
