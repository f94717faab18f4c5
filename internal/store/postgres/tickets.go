package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"github.com/jackc/pgx/v5"
)

const ticketColumns = `ticket_id, kind, status, store_id, user_id, slot_id, scheduled_at, created_at, used_at, cancelled_at`

func (s *Store) CreateQueueTicket(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tickets (kind, status, store_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+ticketColumns, models.KindQueue, models.StatusValid, storeID, userID, now)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, mapInsertError(err)
	}
	return ticket, nil
}

// CreateReservationTicket books one place on a slot occurrence. The slot row
// is locked so concurrent bookings cannot exceed max_people_allowed.
func (s *Store) CreateReservationTicket(ctx context.Context, input store.CreateReservationInput) (models.Ticket, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var ticket models.Ticket
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var capacity int
		err := tx.QueryRow(ctx, `
			SELECT max_people_allowed FROM reservation_slots
			WHERE slot_id = $1 AND store_id = $2 AND is_active
			FOR UPDATE
		`, input.SlotID, input.StoreID).Scan(&capacity)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrSlotNotFound
			}
			return fmt.Errorf("lock slot %d: %w", input.SlotID, err)
		}

		var booked int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM tickets
			WHERE slot_id = $1 AND scheduled_at = $2 AND status <> $3
		`, input.SlotID, input.ScheduledAt, models.StatusCancelled).Scan(&booked); err != nil {
			return fmt.Errorf("count bookings: %w", err)
		}
		if booked >= capacity {
			return store.ErrSlotFull
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO tickets (kind, status, store_id, user_id, slot_id, scheduled_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+ticketColumns, models.KindReservation, models.StatusValid, input.StoreID, input.UserID, input.SlotID, input.ScheduledAt, now)
		ticket, err = scanTicket(row)
		if err != nil {
			return mapInsertError(err)
		}
		return nil
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, fmt.Errorf("load ticket %d: %w", ticketID, err)
	}
	return ticket, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, userID string) (models.Ticket, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE user_id = $1 AND status = $2
	`, userID, models.StatusValid)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, fmt.Errorf("load active ticket: %w", err)
	}
	return ticket, nil
}

// CancelTicket flips a valid ticket owned by the user to cancelled. A ticket
// that exists but is no longer valid yields ErrInvalidState.
func (s *Store) CancelTicket(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	row := s.db.QueryRow(ctx, `
		UPDATE tickets SET status = $1, cancelled_at = $2
		WHERE ticket_id = $3 AND store_id = $4 AND user_id = $5 AND kind = $6 AND status = $7
		RETURNING `+ticketColumns, models.StatusCancelled, now, input.TicketID, input.StoreID, input.UserID, input.Kind, models.StatusValid)
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, fmt.Errorf("cancel ticket %d: %w", input.TicketID, err)
	}

	status, err := s.loadTicketState(ctx, input)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition("cancel", status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	return models.Ticket{}, fmt.Errorf("cancel ticket %d: row changed concurrently", input.TicketID)
}

func (s *Store) loadTicketState(ctx context.Context, input store.CancelTicketInput) (string, error) {
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT status FROM tickets
		WHERE ticket_id = $1 AND store_id = $2 AND user_id = $3 AND kind = $4
	`, input.TicketID, input.StoreID, input.UserID, input.Kind).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrTicketNotFound
		}
		return "", fmt.Errorf("load ticket state: %w", err)
	}
	return status, nil
}

func (s *Store) QueueLength(ctx context.Context, storeID int64) (int64, error) {
	var length int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE store_id = $1 AND kind = $2 AND status = $3
	`, storeID, models.KindQueue, models.StatusValid).Scan(&length)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return length, nil
}

// QueuePosition counts the valid queue tickets of the same store created
// before ticket.
func (s *Store) QueuePosition(ctx context.Context, ticket models.Ticket) (int64, error) {
	var ahead int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE store_id = $1 AND kind = $2 AND status = $3
		  AND (created_at, ticket_id) < ($4, $5)
	`, ticket.StoreID, models.KindQueue, models.StatusValid, ticket.CreatedAt, ticket.TicketID).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return ahead, nil
}

// Admit locks the store row, builds an AdmissionState and lets rule decide.
// When rule allows it the ticket is marked used and occupancy grows by one,
// all inside the same transaction.
func (s *Store) Admit(ctx context.Context, input store.AdmitInput, rule store.AdmissionRule) (store.Admission, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result store.Admission
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE store_id = $1 FOR UPDATE`, input.StoreID)
		st, err := scanStore(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrStoreNotFound
			}
			return fmt.Errorf("lock store %d: %w", input.StoreID, err)
		}

		row = tx.QueryRow(ctx, `
			SELECT `+ticketColumns+` FROM tickets
			WHERE ticket_id = $1 AND store_id = $2 AND kind = $3
		`, input.TicketID, input.StoreID, input.Kind)
		ticket, err := scanTicket(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrTicketNotFound
			}
			return fmt.Errorf("load ticket %d: %w", input.TicketID, err)
		}

		state := store.AdmissionState{Store: st, Ticket: ticket, Now: now}
		if ticket.SlotID != nil {
			slot, err := getSlot(ctx, tx, *ticket.SlotID)
			if err != nil {
				return err
			}
			state.Slot = &slot
		}
		if input.Kind == models.KindQueue {
			if state.FirstQueued, err = firstQueued(ctx, tx, input.StoreID); err != nil {
				return err
			}
			if state.Reserved, err = nearTermReservations(ctx, tx, input.StoreID, now.Add(-input.Window), now.Add(input.Lookahead)); err != nil {
				return err
			}
		}

		result = store.Admission{Ticket: ticket, Occupancy: st.CurrNumber}
		if !rule(state) {
			return nil
		}

		row = tx.QueryRow(ctx, `
			UPDATE tickets SET status = $1, used_at = $2
			WHERE ticket_id = $3 AND status = $4
			RETURNING `+ticketColumns, models.StatusUsed, now, ticket.TicketID, models.StatusValid)
		used, err := scanTicket(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("mark ticket used: %w", err)
		}

		var occupancy int
		if err := tx.QueryRow(ctx, `
			UPDATE stores SET curr_number = curr_number + 1
			WHERE store_id = $1
			RETURNING curr_number
		`, input.StoreID).Scan(&occupancy); err != nil {
			return fmt.Errorf("increment occupancy: %w", err)
		}

		result = store.Admission{Admitted: true, Ticket: used, Occupancy: occupancy}
		return nil
	})
	if err != nil {
		return store.Admission{}, err
	}
	return result, nil
}

// ExpireReservations cancels up to limit valid reservation tickets scheduled
// before cutoff.
func (s *Store) ExpireReservations(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	tag, err := s.db.Exec(ctx, `
		WITH stale AS (
			SELECT ticket_id FROM tickets
			WHERE kind = $1 AND status = $2 AND scheduled_at < $3
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tickets t SET status = $5, cancelled_at = NOW()
		FROM stale
		WHERE t.ticket_id = stale.ticket_id AND t.status = $2
	`, models.KindReservation, models.StatusValid, cutoff, limit, models.StatusCancelled)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func firstQueued(ctx context.Context, tx pgx.Tx, storeID int64) (int64, error) {
	var ticketID int64
	err := tx.QueryRow(ctx, `
		SELECT ticket_id FROM tickets
		WHERE store_id = $1 AND kind = $2 AND status = $3
		ORDER BY created_at, ticket_id
		LIMIT 1
	`, storeID, models.KindQueue, models.StatusValid).Scan(&ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("first queued ticket: %w", err)
	}
	return ticketID, nil
}

func nearTermReservations(ctx context.Context, tx pgx.Tx, storeID int64, from, to time.Time) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE store_id = $1 AND kind = $2 AND status = $3
		  AND scheduled_at BETWEEN $4 AND $5
	`, storeID, models.KindReservation, models.StatusValid, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("near-term reservations: %w", err)
	}
	return count, nil
}

func mapInsertError(err error) error {
	switch {
	case isConstraintViolation(err, pgUniqueViolation, activeTicketIndex):
		return store.ErrActiveTicketExists
	case isConstraintViolation(err, pgFKViolation, "tickets_store_id_fkey"):
		return store.ErrStoreNotFound
	case isConstraintViolation(err, pgFKViolation, "tickets_user_id_fkey"):
		return store.ErrUserNotFound
	default:
		return fmt.Errorf("insert ticket: %w", err)
	}
}

func scanTicket(row scanner) (models.Ticket, error) {
	var ticket models.Ticket
	var slotID sql.NullInt64
	var scheduledAt, usedAt, cancelledAt sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.Kind, &ticket.Status, &ticket.StoreID, &ticket.UserID, &slotID, &scheduledAt, &ticket.CreatedAt, &usedAt, &cancelledAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.SlotID = nullInt64Ptr(slotID)
	ticket.ScheduledAt = nullTimePtr(scheduledAt)
	ticket.UsedAt = nullTimePtr(usedAt)
	ticket.CancelledAt = nullTimePtr(cancelledAt)
	ticket.ReceiptID = store.FormatReceipt(ticket.Kind, ticket.TicketID)
	return ticket, nil
}
