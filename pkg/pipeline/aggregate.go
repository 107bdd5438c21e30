package pipeline

import (
	"sort"
	"strings"
)

// Bucket accumulates every endpoint observation that lands on one
// (pincode, grid cell) key. Coords is fixed at first insertion and never
// touched again; Count and Samples grow together, one sample appended per
// increment, so within a bucket they always agree.
type Bucket struct {
	Pincode string       `json:"pincode"`
	Coords  Coordinate   `json:"coords"`
	Count   int          `json:"count"`
	Samples []*RawRecord `json:"samples"`
}

// endpointPincode picks the postal code an endpoint files under: its own
// area code when present, the opposite end's as fallback, "Unknown" when
// both are blank. Validation upstream makes the fallbacks unreachable in
// the full pipeline; they stay for callers that aggregate unvalidated
// input directly.
func endpointPincode(own, other string) string {
	if !absent(own) {
		return strings.TrimSpace(own)
	}
	if !absent(other) {
		return strings.TrimSpace(other)
	}
	return "Unknown"
}

// aggregate expands each surviving record into up to two endpoint
// observations, start and end, and groups them by pincode plus
// five-decimal grid cell. An endpoint whose GPS string fails to parse is
// skipped alone; the record's other endpoint still counts. The returned
// slice follows first-insertion order, stable within a run but not a
// promise to callers; anyone needing a stable order across runs must
// sort. Pincodes come back sorted for the filter dropdown and list only
// codes that actually own a bucket.
func aggregate(records []*RawRecord) (buckets []*Bucket, pincodes []string, observations int) {
	index := make(map[string]*Bucket)
	pinSet := make(map[string]struct{})

	for _, r := range records {
		endpoints := [2]struct {
			gps string
			pin string
		}{
			{r.StartGPS, endpointPincode(r.StartAreaCode, r.EndAreaCode)},
			{r.EndGPS, endpointPincode(r.EndAreaCode, r.StartAreaCode)},
		}

		for _, ep := range endpoints {
			coord, ok := ParseCoordinate(ep.gps)
			if !ok {
				continue
			}
			key := ep.pin + "|" + coord.gridKey()
			b, exists := index[key]
			if !exists {
				b = &Bucket{Pincode: ep.pin, Coords: coord}
				index[key] = b
				buckets = append(buckets, b)
			}
			b.Count++
			b.Samples = append(b.Samples, r)
			pinSet[ep.pin] = struct{}{}
			observations++
		}
	}

	pincodes = make([]string, 0, len(pinSet))
	for pin := range pinSet {
		pincodes = append(pincodes, pin)
	}
	sort.Strings(pincodes)

	return buckets, pincodes, observations
}
