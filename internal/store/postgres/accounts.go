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

// SaveVerificationCode replaces every outstanding code for phone.
func (s *Store) SaveVerificationCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM verification_codes WHERE phone = $1`, phone); err != nil {
			return fmt.Errorf("delete codes: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO verification_codes (phone, code_hash, expires_at)
			VALUES ($1, $2, $3)
		`, phone, codeHash, expiresAt); err != nil {
			return fmt.Errorf("insert code: %w", err)
		}
		return nil
	})
}

func (s *Store) GetVerificationCode(ctx context.Context, phone string, now time.Time) (models.VerificationCode, error) {
	var code models.VerificationCode
	row := s.db.QueryRow(ctx, `
		SELECT code_id, phone, code_hash, expires_at
		FROM verification_codes
		WHERE phone = $1 AND expires_at > $2
		ORDER BY created_at DESC, code_id DESC
		LIMIT 1
	`, phone, now)
	if err := row.Scan(&code.CodeID, &code.Phone, &code.CodeHash, &code.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.VerificationCode{}, store.ErrCodeMismatch
		}
		return models.VerificationCode{}, fmt.Errorf("load code: %w", err)
	}
	return code, nil
}

// ConsumeVerificationCode deletes the code row. Only one caller can win.
func (s *Store) ConsumeVerificationCode(ctx context.Context, codeID int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM verification_codes WHERE code_id = $1`, codeID)
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrCodeMismatch
	}
	return nil
}

func (s *Store) EnsureUser(ctx context.Context, phone string) (models.User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (phone) VALUES ($1)
		ON CONFLICT (phone) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING phone, name, surname, is_totem, created_at
	`, phone)
	user, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, phone string) (models.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT phone, name, surname, is_totem, created_at
		FROM users
		WHERE phone = $1
	`, phone)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, store.ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// ReplaceToken drops the user's previous token and stores the new one in one
// transaction, so at most one token per user is ever valid.
func (s *Store) ReplaceToken(ctx context.Context, phone, token string, expiresAt time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tokens WHERE user_id = $1`, phone); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tokens (token, user_id, expires_at)
			VALUES ($1, $2, $3)
		`, token, phone, expiresAt); err != nil {
			if isConstraintViolation(err, pgFKViolation, "") {
				return store.ErrUserNotFound
			}
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

func (s *Store) GetTokenUser(ctx context.Context, token string, now time.Time) (string, error) {
	var userID string
	err := s.db.QueryRow(ctx, `
		SELECT user_id FROM tokens WHERE token = $1 AND expires_at > $2
	`, token, now).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrInvalidToken
		}
		return "", fmt.Errorf("load token: %w", err)
	}
	return userID, nil
}

func (s *Store) PurgeExpiredCredentials(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM tokens WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("purge tokens: %w", err)
		}
		purged += tag.RowsAffected()
		tag, err = tx.Exec(ctx, `DELETE FROM verification_codes WHERE expires_at <= $1`, now)
		if err != nil {
			return fmt.Errorf("purge codes: %w", err)
		}
		purged += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

func scanUser(row scanner) (models.User, error) {
	var user models.User
	err := row.Scan(&user.Phone, &user.Name, &user.Surname, &user.IsTotem, &user.CreatedAt)
	return user, err
}
