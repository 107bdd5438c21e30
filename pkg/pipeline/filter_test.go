package pipeline

import (
	"fmt"
	"testing"
)

func filterFixture() []*Bucket {
	return []*Bucket{
		{Pincode: "560001", Coords: Coordinate{Lat: 12.97, Lon: 77.59}, Count: 5},
		{Pincode: "560002", Coords: Coordinate{Lat: 12.98, Lon: 77.60}, Count: 3},
		{Pincode: "560003", Coords: Coordinate{Lat: 13.10, Lon: 77.70}, Count: 1},
	}
}

// TestFilterByPincode covers the dropdown path: a pincode filter alone
// returns exactly the matching buckets with no bounds interference.
func TestFilterByPincode(t *testing.T) {
	got := Filter(filterFixture(), "560001", nil)
	if len(got) != 1 || got[0].Pincode != "560001" {
		t.Fatalf("unexpected filter result: %+v", got)
	}
	if padded := Filter(filterFixture(), "  560001 ", nil); len(padded) != 1 {
		t.Fatalf("padded pincode should match after trimming, got %d buckets", len(padded))
	}
	if all := Filter(filterFixture(), "", nil); len(all) != 3 {
		t.Fatalf("empty pincode should match everything, got %d", len(all))
	}
}

// TestFilterBoundsInclusive pins the closed-rectangle contract: buckets
// sitting exactly on an edge stay in, anything past it goes.
func TestFilterBoundsInclusive(t *testing.T) {
	bounds := &Bounds{MinLat: 12.97, MinLon: 77.59, MaxLat: 12.98, MaxLon: 77.60}
	got := Filter(filterFixture(), "", bounds)
	if len(got) != 2 {
		t.Fatalf("edge buckets should be included, got %d of 2", len(got))
	}
	for _, b := range got {
		if b.Pincode == "560003" {
			t.Fatal("bucket outside bounds leaked through")
		}
	}

	nothing := Filter(filterFixture(), "", &Bounds{MinLat: 50, MinLon: 0, MaxLat: 60, MaxLon: 10})
	if len(nothing) != 0 {
		t.Fatalf("distant viewport should see nothing, got %d", len(nothing))
	}
}

func TestFilterCombinesPincodeAndBounds(t *testing.T) {
	bounds := &Bounds{MinLat: 12.90, MinLon: 77.50, MaxLat: 13.20, MaxLon: 77.80}
	got := Filter(filterFixture(), "560003", bounds)
	if len(got) != 1 || got[0].Pincode != "560003" {
		t.Fatalf("combined filter wrong: %+v", got)
	}
}

// TestFilterCapOnlyWithoutBounds checks the render-cost cap: unbounded
// queries stop at DefaultFeatureCap while viewport queries never do.
func TestFilterCapOnlyWithoutBounds(t *testing.T) {
	big := make([]*Bucket, 0, DefaultFeatureCap+200)
	for i := 0; i < DefaultFeatureCap+200; i++ {
		big = append(big, &Bucket{
			Pincode: fmt.Sprintf("5600%02d", i%50),
			Coords:  Coordinate{Lat: 12.0 + float64(i)*0.0001, Lon: 77.0},
			Count:   1,
		})
	}

	capped := Filter(big, "", nil)
	if len(capped) != DefaultFeatureCap {
		t.Fatalf("unbounded query should cap at %d, got %d", DefaultFeatureCap, len(capped))
	}
	if capped[0] != big[0] {
		t.Fatal("cap should keep the first buckets, not an arbitrary subset")
	}

	bounded := Filter(big, "", &Bounds{MinLat: 11, MinLon: 76, MaxLat: 14, MaxLon: 78})
	if len(bounded) != len(big) {
		t.Fatalf("bounded query should not cap: got %d of %d", len(bounded), len(big))
	}
}
