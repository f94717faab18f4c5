package store

import (
	"errors"
	"testing"

	"clup/store-service/internal/models"
)

func TestParseReceipt(t *testing.T) {
	cases := []struct {
		code     string
		kind     string
		id       int64
		expectOK bool
	}{
		{"Q123", models.KindQueue, 123, true},
		{"q7", models.KindQueue, 7, true},
		{"R45", models.KindReservation, 45, true},
		{" r9 ", models.KindReservation, 9, true},
		{"X12", "", 0, false},
		{"Q", "", 0, false},
		{"Q12a", "", 0, false},
		{"Q-3", "", 0, false},
		{"Q0", "", 0, false},
		{"", "", 0, false},
		{"R99999999999999999999", "", 0, false},
	}

	for _, tc := range cases {
		kind, id, err := ParseReceipt(tc.code)
		if tc.expectOK {
			if err != nil {
				t.Fatalf("%q: unexpected error %v", tc.code, err)
			}
			if kind != tc.kind || id != tc.id {
				t.Fatalf("%q: expected %s/%d, got %s/%d", tc.code, tc.kind, tc.id, kind, id)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTicketCode) {
			t.Fatalf("%q: expected ErrInvalidTicketCode, got %v", tc.code, err)
		}
	}
}

func TestFormatReceiptRoundTrip(t *testing.T) {
	code := FormatReceipt(models.KindReservation, 45)
	if code != "R45" {
		t.Fatalf("expected R45, got %s", code)
	}
	kind, id, err := ParseReceipt(code)
	if err != nil || kind != models.KindReservation || id != 45 {
		t.Fatalf("round trip failed: %s %d %v", kind, id, err)
	}
}

func TestParseReceiptFor(t *testing.T) {
	if id, err := ParseReceiptFor(models.KindQueue, "12"); err != nil || id != 12 {
		t.Fatalf("expected bare id 12, got %d %v", id, err)
	}
	if id, err := ParseReceiptFor(models.KindQueue, "Q12"); err != nil || id != 12 {
		t.Fatalf("expected Q12 -> 12, got %d %v", id, err)
	}
	if _, err := ParseReceiptFor(models.KindQueue, "R12"); !errors.Is(err, ErrInvalidTicketCode) {
		t.Fatalf("expected kind mismatch to fail, got %v", err)
	}
}
