package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/metrics"
	"clup/store-service/internal/models"
	"clup/store-service/internal/sms"
	"clup/store-service/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const codeLength = 5

type Store interface {
	SaveVerificationCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error
	GetVerificationCode(ctx context.Context, phone string, now time.Time) (models.VerificationCode, error)
	ConsumeVerificationCode(ctx context.Context, codeID int64) error
	EnsureUser(ctx context.Context, phone string) (models.User, error)
	GetUser(ctx context.Context, phone string) (models.User, error)
	ReplaceToken(ctx context.Context, phone, token string, expiresAt time.Time) error
	GetTokenUser(ctx context.Context, token string, now time.Time) (string, error)
}

type Options struct {
	CodeTTL  time.Duration
	TokenTTL time.Duration
	HashCost int
	Now      func() time.Time
}

type Manager struct {
	store    Store
	sms      sms.Provider
	throttle Throttle
	log      logger.ILogger
	codeTTL  time.Duration
	tokenTTL time.Duration
	hashCost int
	now      func() time.Time
}

func NewManager(st Store, provider sms.Provider, throttle Throttle, log logger.ILogger, opts Options) *Manager {
	if throttle == nil {
		throttle = NoopThrottle()
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * 24 * time.Hour
	}
	if opts.HashCost == 0 {
		opts.HashCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:    st,
		sms:      provider,
		throttle: throttle,
		log:      log,
		codeTTL:  opts.CodeTTL,
		tokenTTL: opts.TokenTTL,
		hashCost: opts.HashCost,
		now:      opts.Now,
	}
}

// LoginWithPhoneNumber sends a fresh verification code to phone.
func (m *Manager) LoginWithPhoneNumber(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return store.ErrInvalidPhone
	}
	if err := m.allow(ctx, "sms", phone); err != nil {
		return err
	}

	code, err := generateCode(codeLength)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), m.hashCost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}
	if err := m.store.SaveVerificationCode(ctx, phone, string(hash), m.now().Add(m.codeTTL)); err != nil {
		return err
	}

	if err := m.sms.Send(ctx, phone, "Your CLup verification code is "+code); err != nil {
		metrics.TrackSMS("failed")
		m.log.Error("sms delivery failed", logger.String("phone", phone), logger.Error(err))
		return fmt.Errorf("send code: %w", err)
	}
	metrics.TrackSMS("sent")
	m.log.Info("verification code issued", logger.String("phone", phone))
	return nil
}

// VerifyPhoneNumber checks code against the outstanding one for phone and
// consumes it. Any failure is reported as ErrCodeMismatch.
func (m *Manager) VerifyPhoneNumber(ctx context.Context, phone, code string) error {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return store.ErrInvalidPhone
	}
	code = strings.TrimSpace(code)
	if len(code) != codeLength || !digitsOnly(code) {
		return store.ErrCodeMismatch
	}
	if err := m.allow(ctx, "verify", phone); err != nil {
		return err
	}

	stored, err := m.store.GetVerificationCode(ctx, phone, m.now())
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.CodeHash), []byte(code)); err != nil {
		return store.ErrCodeMismatch
	}
	return m.store.ConsumeVerificationCode(ctx, stored.CodeID)
}

// GetAccountToken creates the user on first login and issues a new token,
// revoking the previous one.
func (m *Manager) GetAccountToken(ctx context.Context, phone string) (string, error) {
	user, err := m.store.EnsureUser(ctx, strings.TrimSpace(phone))
	if err != nil {
		return "", err
	}
	token := uuid.NewString()
	if err := m.store.ReplaceToken(ctx, user.Phone, token, m.now().Add(m.tokenTTL)); err != nil {
		return "", err
	}
	m.log.Info("token issued", logger.String("user", user.Phone), logger.Bool("totem", user.IsTotem))
	return token, nil
}

func (m *Manager) ValidateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", store.ErrInvalidToken
	}
	return m.store.GetTokenUser(ctx, token, m.now())
}

func (m *Manager) IsTotem(ctx context.Context, userID string) (bool, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsTotem, nil
}

func (m *Manager) allow(ctx context.Context, action, phone string) error {
	ok, err := m.throttle.Allow(ctx, action, phone)
	if err != nil {
		// Fail open when the counter store is unreachable.
		m.log.Warning("throttle unavailable", logger.String("action", action), logger.Error(err))
		return nil
	}
	if !ok {
		m.log.Warning("login throttled", logger.String("action", action), logger.String("phone", phone))
		return store.ErrTooManyRequests
	}
	return nil
}

// ValidPhone accepts an optional leading '+' followed by 8 to 15 digits.
func ValidPhone(phone string) bool {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 8 || len(digits) > 15 {
		return false
	}
	return digitsOnly(digits)
}

func digitsOnly(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}

func generateCode(length int) (string, error) {
	const charset = "0123456789"
	limit := big.NewInt(int64(len(charset)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = charset[n.Int64()]
	}
	return string(buf), nil
}
