package ticket

import (
	"context"
	"testing"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	getStoreFn  func(ctx context.Context, storeID int64) (models.Store, error)
	getActiveFn func(ctx context.Context, userID string) (models.Ticket, error)
	checkoutFn  func(ctx context.Context, storeID int64) (int, error)
}

func (f *fakeStore) GetStore(ctx context.Context, storeID int64) (models.Store, error) {
	if f.getStoreFn == nil {
		return models.Store{StoreID: storeID, Name: "Esselunga", Address: "Via Roma 1"}, nil
	}
	return f.getStoreFn(ctx, storeID)
}

func (f *fakeStore) GetActiveTicket(ctx context.Context, userID string) (models.Ticket, error) {
	if f.getActiveFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getActiveFn(ctx, userID)
}

func (f *fakeStore) Checkout(ctx context.Context, storeID int64) (int, error) {
	if f.checkoutFn == nil {
		return 0, nil
	}
	return f.checkoutFn(ctx, storeID)
}

type fakeAdmitter struct {
	calls    []int64
	admitted bool
	err      error
	position int64
}

func (f *fakeAdmitter) IsTicketValid(ctx context.Context, storeID, ticketID int64) (store.Admission, error) {
	f.calls = append(f.calls, ticketID)
	if f.err != nil {
		return store.Admission{}, f.err
	}
	return store.Admission{
		Admitted:  f.admitted,
		Ticket:    models.Ticket{TicketID: ticketID, StoreID: storeID},
		Occupancy: 4,
	}, nil
}

func (f *fakeAdmitter) Position(ctx context.Context, ticket models.Ticket) (int64, error) {
	return f.position, nil
}

type recorder struct{ events []models.Event }

func (r *recorder) Publish(event models.Event) { r.events = append(r.events, event) }

func TestCheckTicket_DispatchesByPrefix(t *testing.T) {
	queue := &fakeAdmitter{admitted: true}
	reservations := &fakeAdmitter{admitted: false}
	events := &recorder{}
	m := NewManager(&fakeStore{}, queue, reservations, events, logger.NewNop())
	ctx := context.Background()

	ok, err := m.CheckTicket(ctx, 1, "Q12")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.CheckTicket(ctx, 1, "r45")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []int64{12}, queue.calls)
	assert.Equal(t, []int64{45}, reservations.calls)
	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventTicketAdmitted, events.events[0].Type)
	require.NotNil(t, events.events[0].Occupancy)
	assert.Equal(t, 4, *events.events[0].Occupancy)
}

func TestCheckTicket_InvalidCode(t *testing.T) {
	queue := &fakeAdmitter{}
	reservations := &fakeAdmitter{}
	m := NewManager(&fakeStore{}, queue, reservations, nil, logger.NewNop())

	for _, code := range []string{"X12", "Q", "Qabc", ""} {
		_, err := m.CheckTicket(context.Background(), 1, code)
		assert.ErrorIs(t, err, store.ErrInvalidTicketCode, code)
	}
	assert.Empty(t, queue.calls)
	assert.Empty(t, reservations.calls)
}

func TestCheckTicket_PropagatesNotFound(t *testing.T) {
	queue := &fakeAdmitter{err: store.ErrTicketNotFound}
	m := NewManager(&fakeStore{}, queue, &fakeAdmitter{}, nil, logger.NewNop())

	_, err := m.CheckTicket(context.Background(), 1, "Q99")
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestCheckout(t *testing.T) {
	events := &recorder{}
	st := &fakeStore{checkoutFn: func(ctx context.Context, storeID int64) (int, error) { return 6, nil }}
	m := NewManager(st, &fakeAdmitter{}, &fakeAdmitter{}, events, logger.NewNop())

	occupancy, err := m.Checkout(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 6, occupancy)
	require.Len(t, events.events, 1)
	assert.Equal(t, models.EventCheckout, events.events[0].Type)
	assert.Equal(t, int64(3), events.events[0].StoreID)
}

func TestCheckout_Empty(t *testing.T) {
	st := &fakeStore{checkoutFn: func(ctx context.Context, storeID int64) (int, error) { return 0, store.ErrStoreEmpty }}
	m := NewManager(st, &fakeAdmitter{}, &fakeAdmitter{}, nil, logger.NewNop())

	_, err := m.Checkout(context.Background(), 3)
	assert.ErrorIs(t, err, store.ErrStoreEmpty)
}

func TestGetTicket_QueueIncludesPosition(t *testing.T) {
	st := &fakeStore{
		getActiveFn: func(ctx context.Context, userID string) (models.Ticket, error) {
			return models.Ticket{TicketID: 12, ReceiptID: "Q12", Kind: models.KindQueue, StoreID: 3, UserID: userID}, nil
		},
	}
	m := NewManager(st, &fakeAdmitter{position: 2}, &fakeAdmitter{}, nil, logger.NewNop())

	view, err := m.GetTicket(context.Background(), "+393331234567")
	require.NoError(t, err)
	assert.Equal(t, "Q12", view.ReceiptID)
	assert.Equal(t, "Esselunga", view.Store.Name)
	require.NotNil(t, view.Position)
	assert.Equal(t, int64(2), *view.Position)
}

func TestGetTicket_ReservationHasNoPosition(t *testing.T) {
	st := &fakeStore{
		getActiveFn: func(ctx context.Context, userID string) (models.Ticket, error) {
			return models.Ticket{TicketID: 45, ReceiptID: "R45", Kind: models.KindReservation, StoreID: 3}, nil
		},
	}
	m := NewManager(st, &fakeAdmitter{position: 2}, &fakeAdmitter{}, nil, logger.NewNop())

	view, err := m.GetTicket(context.Background(), "+393331234567")
	require.NoError(t, err)
	assert.Nil(t, view.Position)
}

func TestGetTicket_None(t *testing.T) {
	m := NewManager(&fakeStore{}, &fakeAdmitter{}, &fakeAdmitter{}, nil, logger.NewNop())
	_, err := m.GetTicket(context.Background(), "+393331234567")
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}
