package postgres

import (
	"context"
	"errors"
	"fmt"

	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"github.com/jackc/pgx/v5"
)

const storeColumns = `store_id, name, address, latitude, longitude, max_capacity, curr_number`

func (s *Store) GetStore(ctx context.Context, storeID int64) (models.Store, error) {
	row := s.db.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE store_id = $1`, storeID)
	st, err := scanStore(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Store{}, store.ErrStoreNotFound
		}
		return models.Store{}, fmt.Errorf("load store %d: %w", storeID, err)
	}
	return st, nil
}

func (s *Store) ListStores(ctx context.Context) ([]models.Store, error) {
	rows, err := s.db.Query(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY store_id`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var stores []models.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

// Checkout decrements the occupant count and returns the new value. The
// decrement never takes curr_number below zero.
func (s *Store) Checkout(ctx context.Context, storeID int64) (int, error) {
	var occupancy int
	err := s.db.QueryRow(ctx, `
		UPDATE stores SET curr_number = curr_number - 1
		WHERE store_id = $1 AND curr_number > 0
		RETURNING curr_number
	`, storeID).Scan(&occupancy)
	if err == nil {
		return occupancy, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("checkout store %d: %w", storeID, err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE store_id = $1)`, storeID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check store %d: %w", storeID, err)
	}
	if !exists {
		return 0, store.ErrStoreNotFound
	}
	return 0, store.ErrStoreEmpty
}

func scanStore(row scanner) (models.Store, error) {
	var st models.Store
	err := row.Scan(&st.StoreID, &st.Name, &st.Address, &st.Latitude, &st.Longitude, &st.MaxCapacity, &st.CurrNumber)
	return st, err
}
