package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"github.com/jackc/pgx/v5"
)

const slotColumns = `slot_id, store_id, weekday, to_char(start_time, 'HH24:MI'), max_people_allowed, is_active`

func (s *Store) GetSlot(ctx context.Context, slotID int64) (models.Slot, error) {
	return getSlot(ctx, s.db, slotID)
}

// ListSlotLoad returns every slot of the store with the number of
// non-cancelled tickets scheduled at or after since.
func (s *Store) ListSlotLoad(ctx context.Context, storeID int64, since time.Time) ([]models.SlotLoad, error) {
	rows, err := s.db.Query(ctx, `
		SELECT s.slot_id, s.store_id, s.weekday, to_char(s.start_time, 'HH24:MI'), s.max_people_allowed, s.is_active,
		       COUNT(t.ticket_id)
		FROM reservation_slots s
		LEFT JOIN tickets t
		  ON t.slot_id = s.slot_id AND t.status <> $2 AND t.scheduled_at >= $3
		WHERE s.store_id = $1
		GROUP BY s.slot_id
		ORDER BY s.weekday, s.start_time, s.slot_id
	`, storeID, models.StatusCancelled, since)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var loads []models.SlotLoad
	for rows.Next() {
		var load models.SlotLoad
		if err := rows.Scan(&load.SlotID, &load.StoreID, &load.Weekday, &load.StartTime, &load.MaxPeopleAllowed, &load.IsActive, &load.Booked); err != nil {
			return nil, err
		}
		loads = append(loads, load)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return loads, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSlot(ctx context.Context, db queryRower, slotID int64) (models.Slot, error) {
	var slot models.Slot
	err := db.QueryRow(ctx, `SELECT `+slotColumns+` FROM reservation_slots WHERE slot_id = $1`, slotID).
		Scan(&slot.SlotID, &slot.StoreID, &slot.Weekday, &slot.StartTime, &slot.MaxPeopleAllowed, &slot.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Slot{}, store.ErrSlotNotFound
		}
		return models.Slot{}, fmt.Errorf("load slot %d: %w", slotID, err)
	}
	return slot, nil
}
