package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	codes  map[string]models.VerificationCode
	users  map[string]models.User
	tokens map[string]tokenRow
}

type tokenRow struct {
	user      string
	expiresAt time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		codes:  map[string]models.VerificationCode{},
		users:  map[string]models.User{},
		tokens: map[string]tokenRow{},
	}
}

func (s *memoryStore) SaveVerificationCode(ctx context.Context, phone, codeHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.codes[phone] = models.VerificationCode{CodeID: s.nextID, Phone: phone, CodeHash: codeHash, ExpiresAt: expiresAt}
	return nil
}

func (s *memoryStore) GetVerificationCode(ctx context.Context, phone string, now time.Time) (models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[phone]
	if !ok || !code.ExpiresAt.After(now) {
		return models.VerificationCode{}, store.ErrCodeMismatch
	}
	return code, nil
}

func (s *memoryStore) ConsumeVerificationCode(ctx context.Context, codeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for phone, code := range s.codes {
		if code.CodeID == codeID {
			delete(s.codes, phone)
			return nil
		}
	}
	return store.ErrCodeMismatch
}

func (s *memoryStore) EnsureUser(ctx context.Context, phone string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[phone]
	if !ok {
		user = models.User{Phone: phone, CreatedAt: time.Now()}
		s.users[phone] = user
	}
	return user, nil
}

func (s *memoryStore) GetUser(ctx context.Context, phone string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[phone]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (s *memoryStore) ReplaceToken(ctx context.Context, phone, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for existing, row := range s.tokens {
		if row.user == phone {
			delete(s.tokens, existing)
		}
	}
	s.tokens[token] = tokenRow{user: phone, expiresAt: expiresAt}
	return nil
}

func (s *memoryStore) GetTokenUser(ctx context.Context, token string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tokens[token]
	if !ok || !row.expiresAt.After(now) {
		return "", store.ErrInvalidToken
	}
	return row.user, nil
}

type recordingSMS struct {
	mu       sync.Mutex
	messages map[string]string
	err      error
}

func (r *recordingSMS) Send(ctx context.Context, phone, message string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages == nil {
		r.messages = map[string]string{}
	}
	r.messages[phone] = message
	return nil
}

func (r *recordingSMS) lastCode(phone string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.messages[phone]
	return msg[strings.LastIndex(msg, " ")+1:]
}

type fixedThrottle struct {
	allow bool
	err   error
}

func (f fixedThrottle) Allow(context.Context, string, string) (bool, error) {
	return f.allow, f.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestManager(st Store, provider *recordingSMS, throttle Throttle, c *clock) *Manager {
	return NewManager(st, provider, throttle, logger.NewNop(), Options{
		CodeTTL:  5 * time.Minute,
		TokenTTL: time.Hour,
		HashCost: bcrypt.MinCost,
		Now:      c.Now,
	})
}

const testPhone = "+393331234567"

func TestLoginWithPhoneNumber_InvalidPhone(t *testing.T) {
	provider := &recordingSMS{}
	m := newTestManager(newMemoryStore(), provider, nil, &clock{now: time.Now()})

	for _, bad := range []string{"", "123", "+39abc1234567", "++393331234567", "1234567890123456"} {
		err := m.LoginWithPhoneNumber(context.Background(), bad)
		assert.ErrorIs(t, err, store.ErrInvalidPhone, bad)
	}
	assert.Empty(t, provider.messages)
}

func TestLoginAndVerify_CodeIsSingleUse(t *testing.T) {
	st := newMemoryStore()
	provider := &recordingSMS{}
	m := newTestManager(st, provider, nil, &clock{now: time.Now()})
	ctx := context.Background()

	require.NoError(t, m.LoginWithPhoneNumber(ctx, testPhone))
	code := provider.lastCode(testPhone)
	require.Len(t, code, 5)
	assert.NotEqual(t, code, st.codes[testPhone].CodeHash, "code must be stored hashed")

	require.NoError(t, m.VerifyPhoneNumber(ctx, testPhone, code))
	assert.ErrorIs(t, m.VerifyPhoneNumber(ctx, testPhone, code), store.ErrCodeMismatch)
}

func TestVerifyPhoneNumber_WrongCode(t *testing.T) {
	provider := &recordingSMS{}
	m := newTestManager(newMemoryStore(), provider, nil, &clock{now: time.Now()})
	ctx := context.Background()

	require.NoError(t, m.LoginWithPhoneNumber(ctx, testPhone))
	code := provider.lastCode(testPhone)
	wrong := "00000"
	if code == wrong {
		wrong = "11111"
	}

	assert.ErrorIs(t, m.VerifyPhoneNumber(ctx, testPhone, wrong), store.ErrCodeMismatch)
	assert.ErrorIs(t, m.VerifyPhoneNumber(ctx, testPhone, "12ab5"), store.ErrCodeMismatch)
	assert.NoError(t, m.VerifyPhoneNumber(ctx, testPhone, code))
}

func TestVerifyPhoneNumber_ExpiredCode(t *testing.T) {
	c := &clock{now: time.Now()}
	provider := &recordingSMS{}
	m := newTestManager(newMemoryStore(), provider, nil, c)
	ctx := context.Background()

	require.NoError(t, m.LoginWithPhoneNumber(ctx, testPhone))
	c.now = c.now.Add(6 * time.Minute)
	assert.ErrorIs(t, m.VerifyPhoneNumber(ctx, testPhone, provider.lastCode(testPhone)), store.ErrCodeMismatch)
}

func TestLoginWithPhoneNumber_NewCodeReplacesOld(t *testing.T) {
	provider := &recordingSMS{}
	m := newTestManager(newMemoryStore(), provider, nil, &clock{now: time.Now()})
	ctx := context.Background()

	require.NoError(t, m.LoginWithPhoneNumber(ctx, testPhone))
	first := provider.lastCode(testPhone)
	require.NoError(t, m.LoginWithPhoneNumber(ctx, testPhone))
	second := provider.lastCode(testPhone)

	if first != second {
		assert.ErrorIs(t, m.VerifyPhoneNumber(ctx, testPhone, first), store.ErrCodeMismatch)
	}
	assert.NoError(t, m.VerifyPhoneNumber(ctx, testPhone, second))
}

func TestLoginWithPhoneNumber_Throttled(t *testing.T) {
	provider := &recordingSMS{}
	m := newTestManager(newMemoryStore(), provider, fixedThrottle{allow: false}, &clock{now: time.Now()})

	err := m.LoginWithPhoneNumber(context.Background(), testPhone)
	assert.ErrorIs(t, err, store.ErrTooManyRequests)
	assert.Empty(t, provider.messages)
}

func TestLoginWithPhoneNumber_ThrottleOutageFailsOpen(t *testing.T) {
	provider := &recordingSMS{}
	m := newTestManager(newMemoryStore(), provider, fixedThrottle{err: errors.New("redis down")}, &clock{now: time.Now()})

	require.NoError(t, m.LoginWithPhoneNumber(context.Background(), testPhone))
	assert.Len(t, provider.lastCode(testPhone), 5)
}

func TestLoginWithPhoneNumber_SMSFailure(t *testing.T) {
	provider := &recordingSMS{err: errors.New("carrier down")}
	m := newTestManager(newMemoryStore(), provider, nil, &clock{now: time.Now()})

	err := m.LoginWithPhoneNumber(context.Background(), testPhone)
	assert.Error(t, err)
	assert.Nil(t, store.KindOf(err))
}

func TestGetAccountToken_ReissueRevokesPrevious(t *testing.T) {
	m := newTestManager(newMemoryStore(), &recordingSMS{}, nil, &clock{now: time.Now()})
	ctx := context.Background()

	first, err := m.GetAccountToken(ctx, testPhone)
	require.NoError(t, err)
	second, err := m.GetAccountToken(ctx, testPhone)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = m.ValidateToken(ctx, first)
	assert.ErrorIs(t, err, store.ErrInvalidToken)

	user, err := m.ValidateToken(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, testPhone, user)
}

func TestValidateToken_EmptyAndExpired(t *testing.T) {
	c := &clock{now: time.Now()}
	m := newTestManager(newMemoryStore(), &recordingSMS{}, nil, c)
	ctx := context.Background()

	_, err := m.ValidateToken(ctx, "")
	assert.ErrorIs(t, err, store.ErrInvalidToken)

	token, err := m.GetAccountToken(ctx, testPhone)
	require.NoError(t, err)
	c.now = c.now.Add(2 * time.Hour)
	_, err = m.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, store.ErrInvalidToken)
}

func TestIsTotem(t *testing.T) {
	st := newMemoryStore()
	st.users["+390200000001"] = models.User{Phone: "+390200000001", IsTotem: true}
	st.users[testPhone] = models.User{Phone: testPhone}
	m := newTestManager(st, &recordingSMS{}, nil, &clock{now: time.Now()})
	ctx := context.Background()

	totem, err := m.IsTotem(ctx, "+390200000001")
	require.NoError(t, err)
	assert.True(t, totem)

	totem, err = m.IsTotem(ctx, testPhone)
	require.NoError(t, err)
	assert.False(t, totem)

	totem, err = m.IsTotem(ctx, "+390000000000")
	require.NoError(t, err)
	assert.False(t, totem)
}

func TestValidPhone(t *testing.T) {
	assert.True(t, ValidPhone("+393331234567"))
	assert.True(t, ValidPhone("33312345"))
	assert.True(t, ValidPhone("+123456789012345"))
	assert.False(t, ValidPhone("+1234567"))
	assert.False(t, ValidPhone("+1234567890123456"))
	assert.False(t, ValidPhone("333 1234567"))
}

func TestGenerateCode_DigitsOnly(t *testing.T) {
	seen := map[rune]int{}
	for i := 0; i < 200; i++ {
		code, err := generateCode(codeLength)
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9', "unexpected rune %q", r)
			seen[r]++
		}
	}
	assert.Len(t, seen, 10, "every digit should appear in 1000 draws")
}
