package store

import (
	"strconv"
	"strings"

	"clup/store-service/internal/models"
)

var kindPrefix = map[string]string{
	models.KindQueue:       "Q",
	models.KindReservation: "R",
}

// FormatReceipt renders the client-facing ticket id, e.g. Q123 or R45.
func FormatReceipt(kind string, ticketID int64) string {
	return kindPrefix[kind] + strconv.FormatInt(ticketID, 10)
}

// ParseReceipt splits a receipt id into its ticket kind and numeric id. The
// prefix is case-insensitive.
func ParseReceipt(code string) (string, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) < 2 {
		return "", 0, ErrInvalidTicketCode
	}
	var kind string
	switch strings.ToUpper(code[:1]) {
	case "Q":
		kind = models.KindQueue
	case "R":
		kind = models.KindReservation
	default:
		return "", 0, ErrInvalidTicketCode
	}
	id, err := parseTicketID(code[1:])
	if err != nil {
		return "", 0, err
	}
	return kind, id, nil
}

// ParseReceiptFor accepts either a full receipt id of the given kind or the
// bare numeric ticket id.
func ParseReceiptFor(kind, code string) (int64, error) {
	code = strings.TrimSpace(code)
	if id, err := parseTicketID(code); err == nil {
		return id, nil
	}
	parsedKind, id, err := ParseReceipt(code)
	if err != nil {
		return 0, err
	}
	if parsedKind != kind {
		return 0, ErrInvalidTicketCode
	}
	return id, nil
}

func parseTicketID(raw string) (int64, error) {
	if raw == "" {
		return 0, ErrInvalidTicketCode
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, ErrInvalidTicketCode
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidTicketCode
	}
	return id, nil
}
