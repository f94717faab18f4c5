package ticket

import (
	"context"
	"strconv"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/metrics"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Store interface {
	GetStore(ctx context.Context, storeID int64) (models.Store, error)
	GetActiveTicket(ctx context.Context, userID string) (models.Ticket, error)
	Checkout(ctx context.Context, storeID int64) (int, error)
}

// Admitter decides and records entry for one ticket kind.
type Admitter interface {
	IsTicketValid(ctx context.Context, storeID, ticketID int64) (store.Admission, error)
}

type QueueAdmitter interface {
	Admitter
	Position(ctx context.Context, ticket models.Ticket) (int64, error)
}

type Publisher interface {
	Publish(event models.Event)
}

type Manager struct {
	store        Store
	queue        QueueAdmitter
	reservations Admitter
	events       Publisher
	log          logger.ILogger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewManager(st Store, queue QueueAdmitter, reservations Admitter, events Publisher, log logger.ILogger) *Manager {
	return &Manager{
		store:        st,
		queue:        queue,
		reservations: reservations,
		events:       events,
		log:          log,
		tracer:       otel.Tracer("clup/ticket"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CheckTicket routes a receipt id to the manager owning its kind. A true
// result means the holder was admitted just now.
func (m *Manager) CheckTicket(ctx context.Context, storeID int64, receiptID string) (bool, error) {
	ctx, span := m.tracer.Start(ctx, "ticket.check", trace.WithAttributes(
		attribute.Int64("store.id", storeID),
		attribute.String("ticket.receipt", receiptID),
	))
	defer span.End()

	kind, ticketID, err := store.ParseReceipt(receiptID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	var admitter Admitter = m.queue
	if kind == models.KindReservation {
		admitter = m.reservations
	}
	res, err := admitter.IsTicketValid(ctx, storeID, ticketID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	span.SetAttributes(attribute.Bool("ticket.admitted", res.Admitted))

	if res.Admitted {
		metrics.SetOccupancy(strconv.FormatInt(storeID, 10), res.Occupancy)
		m.publish(models.EventTicketAdmitted, storeID, res.Ticket.ReceiptID, res.Occupancy)
	}
	return res.Admitted, nil
}

// Checkout records one person leaving the store and returns the occupancy.
func (m *Manager) Checkout(ctx context.Context, storeID int64) (int, error) {
	ctx, span := m.tracer.Start(ctx, "store.checkout", trace.WithAttributes(attribute.Int64("store.id", storeID)))
	defer span.End()

	occupancy, err := m.store.Checkout(ctx, storeID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	metrics.SetOccupancy(strconv.FormatInt(storeID, 10), occupancy)
	m.log.Info("checkout", logger.Int64("store_id", storeID), logger.Int("occupancy", occupancy))
	m.publish(models.EventCheckout, storeID, "", occupancy)
	return occupancy, nil
}

// GetTicket returns the user's valid ticket with its store and, for queue
// tickets, how many people are ahead.
func (m *Manager) GetTicket(ctx context.Context, userID string) (models.TicketView, error) {
	ticket, err := m.store.GetActiveTicket(ctx, userID)
	if err != nil {
		return models.TicketView{}, err
	}
	st, err := m.store.GetStore(ctx, ticket.StoreID)
	if err != nil {
		return models.TicketView{}, err
	}
	view := models.TicketView{Ticket: ticket, Store: st.Summary()}
	if ticket.Kind == models.KindQueue {
		position, err := m.queue.Position(ctx, ticket)
		if err != nil {
			return models.TicketView{}, err
		}
		view.Position = &position
	}
	return view, nil
}

func (m *Manager) publish(eventType string, storeID int64, receiptID string, occupancy int) {
	if m.events == nil {
		return
	}
	m.events.Publish(models.Event{
		Type:      eventType,
		StoreID:   storeID,
		TicketID:  receiptID,
		Occupancy: &occupancy,
		CreatedAt: m.now(),
	})
}
