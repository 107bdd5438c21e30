package pipeline

import "strings"

// DefaultFeatureCap bounds how many buckets an unbounded query returns.
// Without a viewport rectangle the browser would otherwise receive the
// whole world; the cap is a presentation limit, not a correctness rule.
const DefaultFeatureCap = 1000

// Bounds is a closed rectangle in degrees. Both edges are inclusive, so a
// bucket sitting exactly on the border stays visible.
type Bounds struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether the coordinate lies inside the rectangle,
// borders included.
func (b Bounds) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat &&
		c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// Filter narrows a bucket set to one pincode and one viewport. An empty
// pincode matches everything; a nil bounds skips the rectangle test but
// caps the result at the first DefaultFeatureCap buckets. Input order is
// preserved.
func Filter(buckets []*Bucket, pincode string, bounds *Bounds) []*Bucket {
	pin := strings.TrimSpace(pincode)
	out := make([]*Bucket, 0, len(buckets))
	for _, b := range buckets {
		if pin != "" && b.Pincode != pin {
			continue
		}
		if bounds != nil && !bounds.Contains(b.Coords) {
			continue
		}
		if bounds == nil && len(out) >= DefaultFeatureCap {
			break
		}
		out = append(out, b)
	}
	return out
}
