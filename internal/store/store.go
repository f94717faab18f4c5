package store

import (
	"context"
	"time"

	"clup/store-service/internal/models"
)

// Querier is the single data-access surface of the service. Every method maps
// to one query or one short transaction.
type Querier interface {
	SaveVerificationCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error
	GetVerificationCode(ctx context.Context, phone string, now time.Time) (models.VerificationCode, error)
	ConsumeVerificationCode(ctx context.Context, codeID int64) error
	EnsureUser(ctx context.Context, phone string) (models.User, error)
	GetUser(ctx context.Context, phone string) (models.User, error)
	ReplaceToken(ctx context.Context, phone, token string, expiresAt time.Time) error
	GetTokenUser(ctx context.Context, token string, now time.Time) (string, error)
	PurgeExpiredCredentials(ctx context.Context, now time.Time) (int64, error)

	GetStore(ctx context.Context, storeID int64) (models.Store, error)
	ListStores(ctx context.Context) ([]models.Store, error)
	Checkout(ctx context.Context, storeID int64) (int, error)

	CreateQueueTicket(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error)
	CreateReservationTicket(ctx context.Context, input CreateReservationInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	GetActiveTicket(ctx context.Context, userID string) (models.Ticket, error)
	CancelTicket(ctx context.Context, input CancelTicketInput) (models.Ticket, error)
	QueueLength(ctx context.Context, storeID int64) (int64, error)
	QueuePosition(ctx context.Context, ticket models.Ticket) (int64, error)
	Admit(ctx context.Context, input AdmitInput, rule AdmissionRule) (Admission, error)
	ExpireReservations(ctx context.Context, cutoff time.Time, limit int) (int, error)

	GetSlot(ctx context.Context, slotID int64) (models.Slot, error)
	ListSlotLoad(ctx context.Context, storeID int64, since time.Time) ([]models.SlotLoad, error)
}

type CreateReservationInput struct {
	StoreID     int64
	SlotID      int64
	UserID      string
	ScheduledAt time.Time
	Now         time.Time
}

type CancelTicketInput struct {
	StoreID  int64
	TicketID int64
	UserID   string
	Kind     string
	Now      time.Time
}

type AdmitInput struct {
	StoreID  int64
	TicketID int64
	Kind     string
	Now      time.Time
	// Reservations scheduled in [Now-Window, Now+Lookahead] count against
	// capacity when admitting from the queue.
	Window    time.Duration
	Lookahead time.Duration
}

// AdmissionState is the snapshot an AdmissionRule decides on. It is read while
// the store row is locked.
type AdmissionState struct {
	Store       models.Store
	Ticket      models.Ticket
	Slot        *models.Slot
	FirstQueued int64
	Reserved    int
	Now         time.Time
}

type AdmissionRule func(AdmissionState) bool

type Admission struct {
	Admitted  bool
	Ticket    models.Ticket
	Occupancy int
}
