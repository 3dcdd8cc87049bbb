package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Box is the displayed image rectangle in client pixels.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NormalizeToBox converts a click in client pixels into percentages of the box.
// Clicks outside the box are rejected.
func NormalizeToBox(clientX, clientY float64, box Box) (x, y float64, err error) {
	if box.Width <= 0 || box.Height <= 0 {
		return 0, 0, fmt.Errorf("image box must have a positive size")
	}

	bound := orb.Bound{
		Min: orb.Point{box.Left, box.Top},
		Max: orb.Point{box.Left + box.Width, box.Top + box.Height},
	}
	if !bound.Contains(orb.Point{clientX, clientY}) {
		return 0, 0, fmt.Errorf("click (%g, %g) is outside the image", clientX, clientY)
	}

	x = (clientX - box.Left) / box.Width * 100
	y = (clientY - box.Top) / box.Height * 100
	return x, y, nil
}

// ValidPercent reports whether both coordinates lie within [0, 100].
func ValidPercent(x, y float64) bool {
	return x >= 0 && x <= 100 && y >= 0 && y <= 100
}
