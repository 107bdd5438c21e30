package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coordinate is an ordered latitude/longitude pair. Both components are
// finite by construction: only ParseCoordinate produces one.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// coordCleaner strips the decorative parentheses the sheet wraps around
// coordinate pairs, "(12.97,77.59)" style.
var coordCleaner = strings.NewReplacer("(", "", ")", "")

// ParseCoordinate converts a loosely formatted coordinate string into a
// numeric pair. After stripping parentheses the string must split on a comma
// into exactly two tokens, and both must parse as finite numbers; anything
// else is invalid. ParseFloat happily accepts "NaN" and "Inf" spellings, so
// finiteness gets checked explicitly.
func ParseCoordinate(raw string) (Coordinate, bool) {
	parts := strings.Split(coordCleaner.Replace(raw), ",")
	if len(parts) != 2 {
		return Coordinate{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return Coordinate{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return Coordinate{}, false
	}
	return Coordinate{Lat: lat, Lon: lon}, true
}

// gridKey renders the coordinate at exactly five decimal places, about one
// metre of ground precision. Fingerprints and bucket keys are both built
// from this form so two differently formatted spellings of one point always
// compare equal.
func (c Coordinate) gridKey() string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// normalizeGPS parses a raw GPS string and returns its five-decimal grid
// form. Records whose GPS strings fail here are invalid, not merely
// unfingerprinted.
func normalizeGPS(raw string) (string, bool) {
	c, ok := ParseCoordinate(raw)
	if !ok {
		return "", false
	}
	return c.gridKey(), true
}
