package queue

import (
	"context"
	"fmt"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/metrics"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"
)

type Store interface {
	GetStore(ctx context.Context, storeID int64) (models.Store, error)
	CreateQueueTicket(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error)
	CancelTicket(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error)
	QueueLength(ctx context.Context, storeID int64) (int64, error)
	QueuePosition(ctx context.Context, ticket models.Ticket) (int64, error)
	Admit(ctx context.Context, input store.AdmitInput, rule store.AdmissionRule) (store.Admission, error)
}

type Publisher interface {
	Publish(event models.Event)
}

// Expirer cancels reservations whose admission window has closed, so their
// holders may join the queue.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

type Options struct {
	// ReservationWindow and Lookahead bound the reservations that hold back
	// queue admission: those scheduled in [now-window, now+lookahead].
	ReservationWindow time.Duration
	Lookahead         time.Duration
	Expirer           Expirer
	Now               func() time.Time
}

type Manager struct {
	store     Store
	events    Publisher
	log       logger.ILogger
	window    time.Duration
	lookahead time.Duration
	expirer   Expirer
	now       func() time.Time
}

func NewManager(st Store, events Publisher, log logger.ILogger, opts Options) *Manager {
	if opts.ReservationWindow <= 0 {
		opts.ReservationWindow = 5 * time.Minute
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = 2 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:     st,
		events:    events,
		log:       log,
		window:    opts.ReservationWindow,
		lookahead: opts.Lookahead,
		expirer:   opts.Expirer,
		now:       opts.Now,
	}
}

// JoinQueue appends a ticket for userID to the store queue and returns its
// receipt id.
func (m *Manager) JoinQueue(ctx context.Context, storeID int64, userID string) (string, error) {
	if _, err := m.store.GetStore(ctx, storeID); err != nil {
		return "", err
	}
	if m.expirer != nil {
		if _, err := m.expirer.ExpireStale(ctx); err != nil {
			return "", fmt.Errorf("expire stale reservations: %w", err)
		}
	}
	ticket, err := m.store.CreateQueueTicket(ctx, storeID, userID, m.now())
	if err != nil {
		metrics.TrackTicket("join", models.KindQueue, "rejected")
		return "", err
	}
	metrics.TrackTicket("join", models.KindQueue, "ok")
	m.log.Info("queue ticket issued", logger.Int64("store_id", storeID), logger.String("receipt", ticket.ReceiptID))
	m.publish(models.EventTicketCreated, ticket)
	return ticket.ReceiptID, nil
}

// IsTicketValid admits the ticket when it heads the store queue and the
// store has room once near-term reservations are counted. Admission marks the
// ticket used and bumps occupancy.
func (m *Manager) IsTicketValid(ctx context.Context, storeID, ticketID int64) (store.Admission, error) {
	res, err := m.store.Admit(ctx, store.AdmitInput{
		StoreID:   storeID,
		TicketID:  ticketID,
		Kind:      models.KindQueue,
		Now:       m.now(),
		Window:    m.window,
		Lookahead: m.lookahead,
	}, Admissible)
	if err != nil {
		return store.Admission{}, err
	}
	outcome := "refused"
	if res.Admitted {
		outcome = "ok"
	}
	metrics.TrackTicket("admit", models.KindQueue, outcome)
	m.log.Info("queue admission", logger.Int64("store_id", storeID), logger.Int64("ticket_id", ticketID), logger.Bool("admitted", res.Admitted))
	return res, nil
}

// Admissible is the queue admission rule.
func Admissible(state store.AdmissionState) bool {
	if !store.ValidTransition("admit", state.Ticket.Status) {
		return false
	}
	if state.FirstQueued != state.Ticket.TicketID {
		return false
	}
	return state.Store.CurrNumber+state.Reserved < state.Store.MaxCapacity
}

func (m *Manager) CancelQueueTicket(ctx context.Context, storeID, ticketID int64, userID string) (models.Ticket, error) {
	ticket, err := m.store.CancelTicket(ctx, store.CancelTicketInput{
		StoreID:  storeID,
		TicketID: ticketID,
		UserID:   userID,
		Kind:     models.KindQueue,
		Now:      m.now(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TrackTicket("cancel", models.KindQueue, "ok")
	m.publish(models.EventTicketCancelled, ticket)
	return ticket, nil
}

// GetQueueData returns the number of valid queue tickets of the store.
func (m *Manager) GetQueueData(ctx context.Context, storeID int64) (int64, error) {
	if _, err := m.store.GetStore(ctx, storeID); err != nil {
		return 0, err
	}
	return m.store.QueueLength(ctx, storeID)
}

// Position is the number of valid queue tickets ahead of ticket.
func (m *Manager) Position(ctx context.Context, ticket models.Ticket) (int64, error) {
	return m.store.QueuePosition(ctx, ticket)
}

func (m *Manager) publish(eventType string, ticket models.Ticket) {
	if m.events == nil {
		return
	}
	m.events.Publish(models.Event{
		Type:      eventType,
		StoreID:   ticket.StoreID,
		TicketID:  ticket.ReceiptID,
		CreatedAt: m.now(),
	})
}
