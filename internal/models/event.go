package models

import "time"

// Event is pushed to realtime subscribers of a store.
type Event struct {
	Type      string    `json:"type"`
	StoreID   int64     `json:"store_id"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Occupancy *int      `json:"occupancy,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventTicketCreated   = "ticket.created"
	EventTicketAdmitted  = "ticket.admitted"
	EventTicketCancelled = "ticket.cancelled"
	EventCheckout        = "store.checkout"
)
