package mapping

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func fullRecord() Record {
	return Record{
		"vendor_id":         "15!G!717acd53-286b-413f-936e-84b2505a6fe3",
		"invoice_no":        "INV-1042",
		"invoice_date":      "2024-01-15T00:00:00",
		"invoice_due_date":  "2024-02-15",
		"received_date":     time.Date(2024, 1, 20, 10, 30, 0, 0, time.UTC),
		"currency":          "  INR ",
		"total_amount":      123.5,
		"tax_details":       `[{"tax_rate":18,"sgst":90,"cgst":90,"igst":0}]`,
		"additional_costs":  nil,
		"purchase_order_no": "PO-77",
	}
}

func TestTransformProducesMappedParameters(t *testing.T) {
	payload, fieldErrs, err := Transform(fullRecord(), Invoice)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(fieldErrs) != 0 {
		t.Fatalf("unexpected field errors: %v", fieldErrs)
	}

	for dest := range payload {
		found := false
		for _, f := range Invoice {
			if f.Dest == dest {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("payload contains unmapped parameter %q", dest)
		}
	}

	want := map[string]string{
		"invoice_no":       "INV-1042",
		"invoice_date":     "2024-01-15",
		"invoice_due_date": "2024-02-15",
		"received_date":    "2024-01-20",
		"currency":         "INR",
		"total_amount":     "123.50",
	}
	for k, v := range want {
		if payload[k] != v {
			t.Fatalf("payload[%q]=%q, want %q", k, payload[k], v)
		}
	}
}

func TestTransformIsDeterministic(t *testing.T) {
	first, _, err := Transform(fullRecord(), Invoice)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	second, _, err := Transform(fullRecord(), Invoice)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("transform not deterministic (-first +second):\n%s", diff)
	}
}

func TestDateTransforms(t *testing.T) {
	cases := map[string]string{
		"2024-01-15T00:00:00":      "2024-01-15",
		"2024-01-15T10:04:05.000Z": "2024-01-15",
		"2024-01-15":               "2024-01-15",
	}
	for input, want := range cases {
		got, err := formatDate(input)
		if err != nil {
			t.Fatalf("formatDate(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("formatDate(%q)=%q, want %q", input, got, want)
		}
	}
}

func TestUnparseableDateOmitsFieldOnly(t *testing.T) {
	rec := fullRecord()
	rec["invoice_due_date"] = "not-a-date"

	payload, fieldErrs, err := Transform(rec, Invoice)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if _, ok := payload["invoice_due_date"]; ok {
		t.Fatal("unparseable date should be omitted from payload")
	}
	if len(fieldErrs) != 1 || fieldErrs[0].Field != "invoice_due_date" {
		t.Fatalf("expected one field error for invoice_due_date, got %v", fieldErrs)
	}
	if payload["invoice_no"] != "INV-1042" {
		t.Fatal("record should survive a field-level failure")
	}
}

func TestNumericTransforms(t *testing.T) {
	if got, _ := formatNumeric(nil); got != "0" {
		t.Fatalf("nil numeric = %q, want 0", got)
	}
	if got, _ := formatNumeric(123.5); got != "123.50" {
		t.Fatalf("123.5 = %q, want 123.50", got)
	}
	if got, _ := formatNumeric("99"); got != "99.00" {
		t.Fatalf("\"99\" = %q, want 99.00", got)
	}
	if got, err := formatNumeric("abc"); err == nil || got != "0" {
		t.Fatalf("unparseable numeric should yield 0 with error, got %q err=%v", got, err)
	}
}

func TestInvalidJSONOmitted(t *testing.T) {
	rec := fullRecord()
	rec["tax_details"] = "{not json"

	payload, fieldErrs, err := Transform(rec, Invoice)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if _, ok := payload["tax_details"]; ok {
		t.Fatal("invalid JSON should be omitted from payload")
	}
	if len(fieldErrs) != 1 || fieldErrs[0].Field != "tax_details" {
		t.Fatalf("expected one field error for tax_details, got %v", fieldErrs)
	}
}

func TestAllRequiredMissingFailsRecord(t *testing.T) {
	rec := Record{
		"office_vessel": "MV Horizon",
		"department":    "ops",
	}
	_, _, err := Transform(rec, Invoice)
	if !errors.Is(err, ErrNoRequiredFields) {
		t.Fatalf("expected ErrNoRequiredFields, got %v", err)
	}
}

func TestSourceColumns(t *testing.T) {
	cols := SourceColumns(Invoice)
	if len(cols) != len(Invoice) {
		t.Fatalf("expected %d columns, got %d", len(Invoice), len(cols))
	}
	if cols[0] != "vendor_id" {
		t.Fatalf("unexpected first column: %q", cols[0])
	}
}
