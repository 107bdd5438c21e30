package pipeline

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RawRecord is one transaction event as received from the upstream sheet.
// Every field stays a string on our side: the identifiers are free-form
// anyway, and the sheet backend is too loosely typed to promise anything
// stronger. Records are immutable once decoded; buckets reference them as
// samples without copying.
type RawRecord struct {
	Action        string `json:"action"`
	CreatedTime   string `json:"created_time"`
	BapID         string `json:"bap_id"`
	TransactionID string `json:"transaction_id"`
	MessageID     string `json:"message_id"`
	Category      string `json:"category"`
	CategoryID    string `json:"category_id"`
	StartGPS      string `json:"start_gps"`
	EndGPS        string `json:"end_gps"`
	StartAreaCode string `json:"start_area_code"`
	EndAreaCode   string `json:"end_area_code"`
}

// stringValue flattens the JSON value shapes the sheet emits into a plain
// string. Pincodes regularly arrive as numbers and blanks as null, so
// strings pass through, numbers are reprinted without a forced decimal
// point, and null or anything stranger becomes empty.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// UnmarshalJSON decodes a RawRecord from a generic map so we can tolerate
// the sheet backend's loose typing instead of failing a whole batch over
// one numeric pincode. Parsing into a map keeps the decoding explicit and
// mirrors the Go Proverb "Clear is better than clever"; unknown columns
// simply fall on the floor.
func (r *RawRecord) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	r.Action = stringValue(m["action"])
	r.CreatedTime = stringValue(m["created_time"])
	r.BapID = stringValue(m["bap_id"])
	r.TransactionID = stringValue(m["transaction_id"])
	r.MessageID = stringValue(m["message_id"])
	r.Category = stringValue(m["category"])
	r.CategoryID = stringValue(m["category_id"])
	r.StartGPS = stringValue(m["start_gps"])
	r.EndGPS = stringValue(m["end_gps"])
	r.StartAreaCode = stringValue(m["start_area_code"])
	r.EndAreaCode = stringValue(m["end_area_code"])
	return nil
}

// absent reports whether a field carries one of the upstream's "no value"
// spellings: empty, "null" or "undefined" after trimming. The literal
// sentinels are a data-quality artifact of the sheet export.
func absent(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "null", "undefined":
		return true
	}
	return false
}

// Valid reports whether a record carries everything aggregation needs: both
// GPS strings and both area codes present, and both GPS strings parseable
// down to the five-decimal grid. Acceptance does not mean retention; the
// deduplicator may still drop the record.
func (r *RawRecord) Valid() bool {
	if absent(r.StartGPS) || absent(r.EndGPS) || absent(r.StartAreaCode) || absent(r.EndAreaCode) {
		return false
	}
	if _, ok := normalizeGPS(r.StartGPS); !ok {
		return false
	}
	if _, ok := normalizeGPS(r.EndGPS); !ok {
		return false
	}
	return true
}

// DecodeBatch extracts raw records from an upstream response body. The feed
// serves either a bare JSON array or an object wrapping the array in a
// "data" field; any other valid JSON shape means "no records". Elements
// that refuse to decode are skipped one by one so a single bad row cannot
// sink the whole batch. Only non-JSON input is reported as an error.
func DecodeBatch(body []byte) ([]RawRecord, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		var envelope struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			if json.Valid(body) {
				return nil, nil
			}
			return nil, fmt.Errorf("decode batch: %w", err)
		}
		elems = envelope.Data
	}

	records := make([]RawRecord, 0, len(elems))
	for _, raw := range elems {
		var rec RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
