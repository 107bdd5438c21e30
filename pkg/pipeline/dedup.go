package pipeline

import "strings"

// fingerprints builds the direction-insensitive pair of dedup keys for a
// record: normalized start, normalized end and the two trimmed pincodes
// joined with "|", plus the same fields with start and end swapped. A trip
// logged A→B and the same trip logged B→A produce each other's reverse, so
// either spelling marks the other as a duplicate.
func fingerprints(r *RawRecord) (forward, reverse string, ok bool) {
	start, ok := normalizeGPS(r.StartGPS)
	if !ok {
		return "", "", false
	}
	end, ok := normalizeGPS(r.EndGPS)
	if !ok {
		return "", "", false
	}
	startPin := strings.TrimSpace(r.StartAreaCode)
	endPin := strings.TrimSpace(r.EndAreaCode)
	forward = strings.Join([]string{start, end, startPin, endPin}, "|")
	reverse = strings.Join([]string{end, start, endPin, startPin}, "|")
	return forward, reverse, true
}

// deduplicate keeps the first occurrence of every trip and discards later
// records whose fingerprint, or its reverse, was already seen. Only the
// forward form enters the seen set; the reverse is checked on lookup, which
// is enough because membership of either form condemns a newcomer. The set
// is local to this call, so nothing leaks between batches. Records that
// fail fingerprinting are discarded outright, not passed through.
func deduplicate(records []*RawRecord) (kept []*RawRecord, duplicates int) {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		forward, reverse, ok := fingerprints(r)
		if !ok {
			continue
		}
		if _, dup := seen[forward]; dup {
			duplicates++
			continue
		}
		if _, dup := seen[reverse]; dup {
			duplicates++
			continue
		}
		seen[forward] = struct{}{}
		kept = append(kept, r)
	}
	return kept, duplicates
}
