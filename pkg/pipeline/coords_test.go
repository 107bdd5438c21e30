package pipeline

import (
	"math"
	"testing"
)

// TestParseCoordinate exercises the tolerant coordinate grammar so sheet
// rows with parentheses, stray spaces or garbage all land on the right side
// of the valid/invalid line.
func TestParseCoordinate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		lat  float64
		lon  float64
		ok   bool
	}{
		{name: "wrapped in parens", raw: "(12.9716,77.5946)", lat: 12.9716, lon: 77.5946, ok: true},
		{name: "bare pair", raw: "12.9716,77.5946", lat: 12.9716, lon: 77.5946, ok: true},
		{name: "spaces around tokens", raw: "( 12.9716 , 77.5946 )", lat: 12.9716, lon: 77.5946, ok: true},
		{name: "negative hemisphere", raw: "(-33.8688,151.2093)", lat: -33.8688, lon: 151.2093, ok: true},
		{name: "integer components", raw: "(13,77)", lat: 13, lon: 77, ok: true},
		{name: "single token", raw: "12.9716", ok: false},
		{name: "three tokens", raw: "12.9,77.5,1", ok: false},
		{name: "non numeric token", raw: "(12.9716,abc)", ok: false},
		{name: "empty string", raw: "", ok: false},
		{name: "only separator", raw: ",", ok: false},
		{name: "nan literal", raw: "(NaN,77.59)", ok: false},
		{name: "inf literal", raw: "(12.97,Inf)", ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseCoordinate(tc.raw)
			if ok != tc.ok {
				t.Fatalf("ParseCoordinate(%q) ok=%v want %v", tc.raw, ok, tc.ok)
			}
			if ok && (got.Lat != tc.lat || got.Lon != tc.lon) {
				t.Fatalf("ParseCoordinate(%q)=%+v want lat=%v lon=%v", tc.raw, got, tc.lat, tc.lon)
			}
		})
	}
}

// TestParseRoundTripStable confirms parsing is idempotent through the grid:
// reparsing a coordinate's own five-decimal form lands on the same point
// within rounding tolerance, so normalization cannot drift a point across
// repeated passes.
func TestParseRoundTripStable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"(12.9716,77.5946)", "(-33.868801,151.209299)", "(0.000004,0.000004)", "(13,77)"} {
		first, ok := ParseCoordinate(raw)
		if !ok {
			t.Fatalf("ParseCoordinate(%q) unexpectedly invalid", raw)
		}
		second, ok := ParseCoordinate(first.gridKey())
		if !ok {
			t.Fatalf("ParseCoordinate(%q) of grid form unexpectedly invalid", first.gridKey())
		}
		if math.Abs(second.Lat-first.Lat) > 0.000005 || math.Abs(second.Lon-first.Lon) > 0.000005 {
			t.Fatalf("grid round trip drifted: %q -> %+v -> %+v", raw, first, second)
		}
		if second.gridKey() != first.gridKey() {
			t.Fatalf("grid form unstable: %q vs %q", first.gridKey(), second.gridKey())
		}
	}
}

// TestGridKeyCollapsesFormattingNoise guards the shared normalization used
// by both the deduplicator and the aggregator: spellings of one physical
// point that differ only past the fifth decimal must produce one key.
func TestGridKeyCollapsesFormattingNoise(t *testing.T) {
	t.Parallel()

	a, _ := ParseCoordinate("(12.970001,77.594601)")
	b, _ := ParseCoordinate("12.97000,77.59460")
	if a.gridKey() != b.gridKey() {
		t.Fatalf("grid keys diverged: %q vs %q", a.gridKey(), b.gridKey())
	}
	if a.gridKey() != "12.97000,77.59460" {
		t.Fatalf("unexpected grid form: %q", a.gridKey())
	}
}
