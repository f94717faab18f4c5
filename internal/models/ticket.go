package models

import "time"

type Ticket struct {
	TicketID    int64      `json:"ticket_id"`
	ReceiptID   string     `json:"receipt_id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	StoreID     int64      `json:"store_id"`
	UserID      string     `json:"user_id"`
	SlotID      *int64     `json:"slot_id,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

const (
	KindQueue       = "queue"
	KindReservation = "reservation"
)

const (
	StatusValid     = "valid"
	StatusUsed      = "used"
	StatusCancelled = "cancelled"
)

// TicketView is what a customer sees for their active ticket.
type TicketView struct {
	Ticket
	Store    StoreSummary `json:"store"`
	Position *int64       `json:"position,omitempty"`
}
