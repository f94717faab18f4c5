package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	getStoreFn    func(ctx context.Context, storeID int64) (models.Store, error)
	createFn      func(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error)
	cancelFn      func(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error)
	queueLengthFn func(ctx context.Context, storeID int64) (int64, error)
	queuePosFn    func(ctx context.Context, ticket models.Ticket) (int64, error)
	admitFn       func(ctx context.Context, input store.AdmitInput, rule store.AdmissionRule) (store.Admission, error)
}

func (f *fakeStore) GetStore(ctx context.Context, storeID int64) (models.Store, error) {
	if f.getStoreFn == nil {
		return models.Store{StoreID: storeID}, nil
	}
	return f.getStoreFn(ctx, storeID)
}

func (f *fakeStore) CreateQueueTicket(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
	if f.createFn == nil {
		return models.Ticket{}, nil
	}
	return f.createFn(ctx, storeID, userID, now)
}

func (f *fakeStore) CancelTicket(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, nil
	}
	return f.cancelFn(ctx, input)
}

func (f *fakeStore) QueueLength(ctx context.Context, storeID int64) (int64, error) {
	if f.queueLengthFn == nil {
		return 0, nil
	}
	return f.queueLengthFn(ctx, storeID)
}

func (f *fakeStore) QueuePosition(ctx context.Context, ticket models.Ticket) (int64, error) {
	if f.queuePosFn == nil {
		return 0, nil
	}
	return f.queuePosFn(ctx, ticket)
}

func (f *fakeStore) Admit(ctx context.Context, input store.AdmitInput, rule store.AdmissionRule) (store.Admission, error) {
	if f.admitFn == nil {
		return store.Admission{}, nil
	}
	return f.admitFn(ctx, input, rule)
}

type recorder struct{ events []models.Event }

func (r *recorder) Publish(event models.Event) { r.events = append(r.events, event) }

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestManager(st Store, events Publisher) *Manager {
	return NewManager(st, events, logger.NewNop(), Options{Now: func() time.Time { return fixedNow }})
}

func TestAdmissible(t *testing.T) {
	base := store.AdmissionState{
		Store:       models.Store{MaxCapacity: 10, CurrNumber: 5},
		Ticket:      models.Ticket{TicketID: 7, Status: models.StatusValid},
		FirstQueued: 7,
		Reserved:    2,
	}
	assert.True(t, Admissible(base))

	notFirst := base
	notFirst.FirstQueued = 6
	assert.False(t, Admissible(notFirst), "only the oldest valid ticket enters")

	full := base
	full.Reserved = 5
	assert.False(t, Admissible(full), "upcoming reservations hold back capacity")

	used := base
	used.Ticket.Status = models.StatusUsed
	assert.False(t, Admissible(used))

	emptyQueue := base
	emptyQueue.FirstQueued = 0
	assert.False(t, Admissible(emptyQueue))
}

func TestJoinQueue(t *testing.T) {
	events := &recorder{}
	var gotUser string
	st := &fakeStore{
		createFn: func(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
			gotUser = userID
			assert.Equal(t, fixedNow, now)
			return models.Ticket{TicketID: 12, StoreID: storeID, ReceiptID: "Q12", Kind: models.KindQueue}, nil
		},
	}
	m := newTestManager(st, events)

	receipt, err := m.JoinQueue(context.Background(), 3, "+393331234567")
	require.NoError(t, err)
	assert.Equal(t, "Q12", receipt)
	assert.Equal(t, "+393331234567", gotUser)
	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventTicketCreated, events.events[0].Type)
	assert.Equal(t, int64(3), events.events[0].StoreID)
}

func TestJoinQueue_MissingStore(t *testing.T) {
	created := false
	st := &fakeStore{
		getStoreFn: func(ctx context.Context, storeID int64) (models.Store, error) {
			return models.Store{}, store.ErrStoreNotFound
		},
		createFn: func(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
			created = true
			return models.Ticket{}, nil
		},
	}
	m := newTestManager(st, nil)

	_, err := m.JoinQueue(context.Background(), 3, "+393331234567")
	assert.ErrorIs(t, err, store.ErrStoreNotFound)
	assert.False(t, created)
}

type expirerFunc func(ctx context.Context) (int, error)

func (f expirerFunc) ExpireStale(ctx context.Context) (int, error) { return f(ctx) }

func TestJoinQueue_ExpiresStaleReservationsFirst(t *testing.T) {
	var steps []string
	st := &fakeStore{
		createFn: func(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
			steps = append(steps, "create")
			return models.Ticket{TicketID: 13, StoreID: storeID, ReceiptID: "Q13", Kind: models.KindQueue}, nil
		},
	}
	m := NewManager(st, nil, logger.NewNop(), Options{
		Expirer: expirerFunc(func(ctx context.Context) (int, error) {
			steps = append(steps, "expire")
			return 1, nil
		}),
		Now: func() time.Time { return fixedNow },
	})

	receipt, err := m.JoinQueue(context.Background(), 3, "+393331234567")
	require.NoError(t, err)
	assert.Equal(t, "Q13", receipt)
	assert.Equal(t, []string{"expire", "create"}, steps)
}

func TestJoinQueue_ExpiryFailure(t *testing.T) {
	created := false
	st := &fakeStore{
		createFn: func(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
			created = true
			return models.Ticket{}, nil
		},
	}
	m := NewManager(st, nil, logger.NewNop(), Options{
		Expirer: expirerFunc(func(ctx context.Context) (int, error) {
			return 0, errors.New("connection reset")
		}),
		Now: func() time.Time { return fixedNow },
	})

	_, err := m.JoinQueue(context.Background(), 3, "+393331234567")
	require.Error(t, err)
	assert.False(t, created)
}

func TestJoinQueue_ActiveTicket(t *testing.T) {
	st := &fakeStore{
		createFn: func(ctx context.Context, storeID int64, userID string, now time.Time) (models.Ticket, error) {
			return models.Ticket{}, store.ErrActiveTicketExists
		},
	}
	m := newTestManager(st, nil)

	_, err := m.JoinQueue(context.Background(), 3, "+393331234567")
	assert.ErrorIs(t, err, store.ErrActiveTicketExists)
}

func TestIsTicketValid_PassesWindowAndRule(t *testing.T) {
	st := &fakeStore{
		admitFn: func(ctx context.Context, input store.AdmitInput, rule store.AdmissionRule) (store.Admission, error) {
			assert.Equal(t, models.KindQueue, input.Kind)
			assert.Equal(t, int64(9), input.TicketID)
			assert.Equal(t, 2*time.Hour, input.Lookahead)
			assert.Equal(t, 5*time.Minute, input.Window)
			state := store.AdmissionState{
				Store:       models.Store{MaxCapacity: 1},
				Ticket:      models.Ticket{TicketID: 9, Status: models.StatusValid},
				FirstQueued: 9,
			}
			return store.Admission{Admitted: rule(state), Occupancy: 1}, nil
		},
	}
	m := newTestManager(st, nil)

	res, err := m.IsTicketValid(context.Background(), 4, 9)
	require.NoError(t, err)
	assert.True(t, res.Admitted)
}

func TestCancelQueueTicket(t *testing.T) {
	events := &recorder{}
	st := &fakeStore{
		cancelFn: func(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error) {
			assert.Equal(t, models.KindQueue, input.Kind)
			assert.Equal(t, "+393331234567", input.UserID)
			return models.Ticket{TicketID: input.TicketID, StoreID: input.StoreID, ReceiptID: "Q5", Status: models.StatusCancelled}, nil
		},
	}
	m := newTestManager(st, events)

	ticket, err := m.CancelQueueTicket(context.Background(), 2, 5, "+393331234567")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, ticket.Status)
	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventTicketCancelled, events.events[0].Type)
}

func TestCancelQueueTicket_Errors(t *testing.T) {
	for _, want := range []error{store.ErrTicketNotFound, store.ErrInvalidState} {
		st := &fakeStore{
			cancelFn: func(ctx context.Context, input store.CancelTicketInput) (models.Ticket, error) {
				return models.Ticket{}, want
			},
		}
		_, err := newTestManager(st, nil).CancelQueueTicket(context.Background(), 2, 5, "+393331234567")
		assert.ErrorIs(t, err, want)
	}
}

func TestGetQueueData(t *testing.T) {
	st := &fakeStore{
		queueLengthFn: func(ctx context.Context, storeID int64) (int64, error) { return 4, nil },
	}
	length, err := newTestManager(st, nil).GetQueueData(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4), length)

	st.getStoreFn = func(ctx context.Context, storeID int64) (models.Store, error) {
		return models.Store{}, store.ErrStoreNotFound
	}
	_, err = newTestManager(st, nil).GetQueueData(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrStoreNotFound)
}
