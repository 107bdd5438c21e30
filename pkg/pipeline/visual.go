package pipeline

import "math"

// referenceZoom is the Leaflet zoom level the base radius multiplier was
// calibrated at; radii scale relative to it as the live zoom changes.
const (
	referenceZoom = 12
	radiusBase    = 120
	minRadius     = 50
	maxRadius     = 1500
)

// Tier classifies a bucket count into one of five ordered density classes.
// Thresholds are strict and checked deepest first, so a count of exactly
// 1000 is still tier 4.
func Tier(count int) int {
	switch {
	case count > 1000:
		return 5
	case count > 500:
		return 4
	case count > 100:
		return 3
	case count > 20:
		return 2
	default:
		return 1
	}
}

// tierColors is a light-to-deep red ramp. Index 0 stays empty so a tier
// number indexes its color directly.
var tierColors = [...]string{"", "#fee5d9", "#fcae91", "#fb6a4a", "#de2d26", "#a50f15"}

// TierColor maps a count straight to its tier's hex color.
func TierColor(count int) string {
	return tierColors[Tier(count)]
}

// Radius sizes a bucket's circle in metres from its count and the live map
// zoom. Growth is logarithmic in count so a dense cell cannot swallow the
// whole map, and inversely proportional to zoom so zooming in shrinks the
// footprint. A zoom of zero or below drops the zoom compensation entirely,
// for callers with no live zoom signal. The result always lands in
// [minRadius, maxRadius].
func Radius(count int, zoom float64) float64 {
	r := math.Log(float64(count)+1) * radiusBase
	if zoom > 0 {
		r *= referenceZoom / zoom
	}
	if r < minRadius {
		return minRadius
	}
	if r > maxRadius {
		return maxRadius
	}
	return r
}
