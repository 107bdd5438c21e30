// Package pipeline turns a flat batch of raw transaction records into a
// deduplicated, spatially aggregated set of density buckets ready for a map.
//
// The whole package is a pure synchronous transform: no I/O, no goroutines,
// no state surviving between runs. Every Run call owns its seen-fingerprint
// set and bucket map, so concurrent runs over independent batches share
// nothing.
package pipeline

// Stats counts what happened to one batch so the poll log can report a
// single honest line per rebuild.
type Stats struct {
	Received     int `json:"received"`
	Rejected     int `json:"rejected"`
	Duplicates   int `json:"duplicates"`
	Survivors    int `json:"survivors"`
	Observations int `json:"observations"`
}

// Result carries everything one run produces: the buckets in first-insertion
// order, the sorted distinct pincodes for the filter dropdown, and the batch
// counters.
type Result struct {
	Buckets  []*Bucket `json:"buckets"`
	Pincodes []string  `json:"pincodes"`
	Stats    Stats     `json:"stats"`
}

// Run pushes a batch through validation, deduplication and aggregation.
// Per-record problems never abort the batch; a bad row is skipped and
// counted, and the rest keep flowing. Input order is preserved throughout
// because the first spelling of a trip is the one that survives dedup.
func Run(records []RawRecord) Result {
	valid := make([]*RawRecord, 0, len(records))
	for i := range records {
		if records[i].Valid() {
			valid = append(valid, &records[i])
		}
	}

	kept, duplicates := deduplicate(valid)
	buckets, pincodes, observations := aggregate(kept)

	return Result{
		Buckets:  buckets,
		Pincodes: pincodes,
		Stats: Stats{
			Received:     len(records),
			Rejected:     len(records) - len(valid),
			Duplicates:   duplicates,
			Survivors:    len(kept),
			Observations: observations,
		},
	}
}
