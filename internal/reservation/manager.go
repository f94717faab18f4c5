package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/metrics"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"
)

// Crowdedness buckets run 0..3; slots in the top bucket are not offered.
const crowdBuckets = 3

type Store interface {
	GetStore(ctx context.Context, storeID int64) (models.Store, error)
	GetSlot(ctx context.Context, slotID int64) (models.Slot, error)
	ListSlotLoad(ctx context.Context, storeID int64, since time.Time) ([]models.SlotLoad, error)
	CreateReservationTicket(ctx context.Context, input store.CreateReservationInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error)
	Admit(ctx context.Context, input store.AdmitInput, rule store.AdmissionRule) (store.Admission, error)
	ExpireReservations(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type Publisher interface {
	Publish(event models.Event)
}

type Options struct {
	// Window is how long after a slot starts its tickets are still admitted.
	Window    time.Duration
	Location  *time.Location
	BatchSize int
	Now       func() time.Time
}

type Manager struct {
	store     Store
	events    Publisher
	log       logger.ILogger
	window    time.Duration
	loc       *time.Location
	batchSize int
	now       func() time.Time
}

func NewManager(st Store, events Publisher, log logger.ILogger, opts Options) *Manager {
	if opts.Window <= 0 {
		opts.Window = 5 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:     st,
		events:    events,
		log:       log,
		window:    opts.Window,
		loc:       opts.Location,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
}

// Window is the admission window after a slot start.
func (m *Manager) Window() time.Duration {
	return m.window
}

// MakeReservation books the next occurrence of slotID for userID and returns
// the receipt id.
func (m *Manager) MakeReservation(ctx context.Context, storeID, slotID int64, userID string) (string, error) {
	if _, err := m.ExpireStale(ctx); err != nil {
		return "", err
	}

	slot, err := m.store.GetSlot(ctx, slotID)
	if err != nil {
		return "", err
	}
	if slot.StoreID != storeID || !slot.IsActive {
		return "", store.ErrSlotNotFound
	}

	now := m.now()
	occurrence, err := NextOccurrence(slot, now, m.loc)
	if err != nil {
		return "", err
	}
	if occurrence.Before(now) {
		return "", store.ErrSlotPassed
	}

	ticket, err := m.store.CreateReservationTicket(ctx, store.CreateReservationInput{
		StoreID:     storeID,
		SlotID:      slotID,
		UserID:      userID,
		ScheduledAt: occurrence.UTC(),
		Now:         now,
	})
	if err != nil {
		metrics.TrackTicket("book", models.KindReservation, "rejected")
		return "", err
	}
	if ticket.UserID != userID {
		return "", fmt.Errorf("reservation %d owned by another user", ticket.TicketID)
	}

	metrics.TrackTicket("book", models.KindReservation, "ok")
	m.log.Info("reservation booked",
		logger.Int64("store_id", storeID),
		logger.Int64("slot_id", slotID),
		logger.String("receipt", ticket.ReceiptID),
		logger.String("scheduled_at", occurrence.Format(time.RFC3339)),
	)
	m.publish(models.EventTicketCreated, ticket)
	return ticket.ReceiptID, nil
}

// IsTicketValid admits a reservation ticket inside its slot window. Admission
// marks the ticket used and bumps occupancy.
func (m *Manager) IsTicketValid(ctx context.Context, storeID, ticketID int64) (store.Admission, error) {
	if _, err := m.ExpireStale(ctx); err != nil {
		return store.Admission{}, err
	}
	res, err := m.store.Admit(ctx, store.AdmitInput{
		StoreID:  storeID,
		TicketID: ticketID,
		Kind:     models.KindReservation,
		Now:      m.now(),
	}, func(state store.AdmissionState) bool {
		return Admissible(state, m.loc, m.window)
	})
	if err != nil {
		return store.Admission{}, err
	}
	outcome := "refused"
	if res.Admitted {
		outcome = "ok"
	}
	metrics.TrackTicket("admit", models.KindReservation, outcome)
	m.log.Info("reservation admission", logger.Int64("store_id", storeID), logger.Int64("ticket_id", ticketID), logger.Bool("admitted", res.Admitted))
	return res, nil
}

// Admissible is the reservation admission rule: a valid ticket, a store with
// room, an active slot, and a current minute within [start, start+window] on
// the slot's weekday.
func Admissible(state store.AdmissionState, loc *time.Location, window time.Duration) bool {
	if !store.ValidTransition("admit", state.Ticket.Status) {
		return false
	}
	if state.Store.CurrNumber >= state.Store.MaxCapacity {
		return false
	}
	slot := state.Slot
	if slot == nil || !slot.IsActive {
		return false
	}
	now := state.Now.In(loc).Truncate(time.Minute)
	if int(now.Weekday()) != slot.Weekday {
		return false
	}
	start, err := slot.Minutes()
	if err != nil {
		return false
	}
	startAt := time.Date(now.Year(), now.Month(), now.Day(), start/60, start%60, 0, 0, loc)
	return !now.Before(startAt) && !now.After(startAt.Add(window))
}

func (m *Manager) CancelReservation(ctx context.Context, storeID, ticketID int64, userID string) (models.Ticket, error) {
	ticket, err := m.store.CancelTicket(ctx, store.CancelTicketInput{
		StoreID:  storeID,
		TicketID: ticketID,
		UserID:   userID,
		Kind:     models.KindReservation,
		Now:      m.now(),
	})
	if err != nil {
		return models.Ticket{}, err
	}
	metrics.TrackTicket("cancel", models.KindReservation, "ok")
	m.publish(models.EventTicketCancelled, ticket)
	return ticket, nil
}

// GetReservationData lists the bookable upcoming timeslots of a store,
// soonest first. Slots in the top crowdedness bucket are left out.
func (m *Manager) GetReservationData(ctx context.Context, storeID int64) ([]models.Timeslot, error) {
	if _, err := m.store.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	now := m.now()
	loads, err := m.store.ListSlotLoad(ctx, storeID, now.Add(-m.window))
	if err != nil {
		return nil, err
	}

	timeslots := make([]models.Timeslot, 0, len(loads))
	for _, load := range loads {
		if !load.IsActive {
			continue
		}
		occurrence, err := NextOccurrence(load.Slot, now, m.loc)
		if err != nil {
			m.log.Warning("skip malformed slot", logger.Int64("slot_id", load.SlotID), logger.Error(err))
			continue
		}
		if occurrence.Before(now) {
			continue
		}
		crowdedness := Crowdedness(load.Booked, load.MaxPeopleAllowed)
		if crowdedness >= crowdBuckets {
			continue
		}
		timeslots = append(timeslots, models.Timeslot{
			Slot:        load.Slot,
			Date:        occurrence,
			Booked:      load.Booked,
			Crowdedness: crowdedness,
		})
	}
	sort.SliceStable(timeslots, func(i, j int) bool {
		return timeslots[i].Date.Before(timeslots[j].Date)
	})
	return timeslots, nil
}

// ExpireStale cancels valid reservation tickets whose admission window has
// closed. The window is counted in whole minutes, as in Admissible.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	cutoff := m.now().Truncate(time.Minute).Add(-m.window)
	count, err := m.store.ExpireReservations(ctx, cutoff, m.batchSize)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.AddExpired(count)
		m.log.Info("expired reservations", logger.Int("count", count))
	}
	return count, nil
}

// NextOccurrence is the slot's start on the nearest day, today included,
// whose weekday matches. It may lie in the past when the slot is today.
func NextOccurrence(slot models.Slot, now time.Time, loc *time.Location) (time.Time, error) {
	if slot.Weekday < 0 || slot.Weekday > 6 {
		return time.Time{}, errors.New("weekday out of range")
	}
	start, err := slot.Minutes()
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	daysAhead := (slot.Weekday - int(local.Weekday()) + 7) % 7
	return time.Date(local.Year(), local.Month(), local.Day()+daysAhead, start/60, start%60, 0, 0, loc), nil
}

// Crowdedness maps booked/capacity onto 0..3.
func Crowdedness(booked, capacity int) int {
	if capacity <= 0 {
		return crowdBuckets
	}
	return booked * crowdBuckets / capacity
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
