package pipeline

import (
	"encoding/json"
	"testing"
)

func TestDecodeBatchBareArray(t *testing.T) {
	body := []byte(`[{"transaction_id":"t1","start_gps":"(12.97,77.59)"},{"transaction_id":"t2"}]`)
	records, err := DecodeBatch(body)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("unexpected record count: %d", len(records))
	}
	if records[0].TransactionID != "t1" || records[0].StartGPS != "(12.97,77.59)" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
}

func TestDecodeBatchDataEnvelope(t *testing.T) {
	body := []byte(`{"updated":"2026-08-20","data":[{"transaction_id":"t1"}]}`)
	records, err := DecodeBatch(body)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(records) != 1 || records[0].TransactionID != "t1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

// TestDecodeBatchForeignShapes checks that valid JSON in any other shape
// means "no records", never an error: the poller treats only broken JSON as
// an upstream failure worth surfacing.
func TestDecodeBatchForeignShapes(t *testing.T) {
	for _, body := range []string{`{"rows":[1,2]}`, `"maintenance"`, `42`, `null`, `{"data":"soon"}`} {
		records, err := DecodeBatch([]byte(body))
		if err != nil {
			t.Fatalf("DecodeBatch(%s) unexpected error: %v", body, err)
		}
		if len(records) != 0 {
			t.Fatalf("DecodeBatch(%s) produced records: %+v", body, records)
		}
	}
}

func TestDecodeBatchBrokenJSON(t *testing.T) {
	if _, err := DecodeBatch([]byte(`[{"transaction_id":`)); err == nil {
		t.Fatal("expected truncated JSON to fail")
	}
}

// TestDecodeBatchSkipsBadElements confirms per-element degradation: one
// non-object row must not cost us the rows around it.
func TestDecodeBatchSkipsBadElements(t *testing.T) {
	body := []byte(`[{"transaction_id":"t1"},42,{"transaction_id":"t2"}]`)
	records, err := DecodeBatch(body)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(records) != 2 || records[0].TransactionID != "t1" || records[1].TransactionID != "t2" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

// TestRawRecordLooseTypes guards the sheet-export quirks: numeric pincodes,
// null blanks and unknown columns must all decode without complaint.
func TestRawRecordLooseTypes(t *testing.T) {
	body := []byte(`{
	        "action": "on_confirm",
	        "transaction_id": 981234,
	        "start_gps": "(12.97,77.59)",
	        "end_gps": null,
	        "start_area_code": 560001,
	        "end_area_code": "560002",
	        "spreadsheet_row": 17
	}`)
	var rec RawRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if rec.TransactionID != "981234" {
		t.Fatalf("numeric id not flattened: %q", rec.TransactionID)
	}
	if rec.StartAreaCode != "560001" {
		t.Fatalf("numeric pincode not flattened: %q", rec.StartAreaCode)
	}
	if rec.EndGPS != "" {
		t.Fatalf("null field should decode empty, got %q", rec.EndGPS)
	}
	if rec.EndAreaCode != "560002" {
		t.Fatalf("plain string mangled: %q", rec.EndAreaCode)
	}
}

// TestRecordValid walks the validation contract: all four location fields
// present and both GPS strings parseable, with the sheet's "null" and
// "undefined" spellings treated as missing.
func TestRecordValid(t *testing.T) {
	t.Parallel()

	base := RawRecord{
		StartGPS:      "(12.97,77.59)",
		EndGPS:        "(12.98,77.60)",
		StartAreaCode: "560001",
		EndAreaCode:   "560002",
	}

	cases := []struct {
		name   string
		mutate func(*RawRecord)
		valid  bool
	}{
		{name: "complete record", mutate: func(r *RawRecord) {}, valid: true},
		{name: "padded pincode still counts", mutate: func(r *RawRecord) { r.StartAreaCode = " 560001 " }, valid: true},
		{name: "empty start gps", mutate: func(r *RawRecord) { r.StartGPS = "" }, valid: false},
		{name: "null literal end gps", mutate: func(r *RawRecord) { r.EndGPS = "null" }, valid: false},
		{name: "undefined literal pincode", mutate: func(r *RawRecord) { r.EndAreaCode = "undefined" }, valid: false},
		{name: "whitespace only pincode", mutate: func(r *RawRecord) { r.StartAreaCode = "   " }, valid: false},
		{name: "unparseable start gps", mutate: func(r *RawRecord) { r.StartGPS = "(12.97)" }, valid: false},
		{name: "non numeric end gps", mutate: func(r *RawRecord) { r.EndGPS = "(abc,77.60)" }, valid: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := base
			tc.mutate(&rec)
			if got := rec.Valid(); got != tc.valid {
				t.Fatalf("Valid()=%v want %v for %+v", got, tc.valid, rec)
			}
		})
	}
}
