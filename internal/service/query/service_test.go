package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yuta-hayashi/eventcap/internal/domain"
	"github.com/yuta-hayashi/eventcap/internal/repository"
)

type fakeStore struct {
	events       map[int64]*domain.Event
	tiers        map[int64][]domain.TicketTier
	availability map[int64]*domain.EventAvailability
	calls        int
}

func (f *fakeStore) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	f.calls++
	e, ok := f.events[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) ListTiers(ctx context.Context, eventID int64) ([]domain.TicketTier, error) {
	if _, ok := f.events[eventID]; !ok {
		return nil, repository.ErrNotFound
	}
	return f.tiers[eventID], nil
}

func (f *fakeStore) Availability(ctx context.Context, eventID int64) (*domain.EventAvailability, error) {
	a, ok := f.availability[eventID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func newTestService() (*Service, *fakeStore) {
	store := &fakeStore{
		events: map[int64]*domain.Event{
			1: {ID: 1, Name: "GopherCon", Date: time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC), Capacity: 100},
		},
		tiers: map[int64][]domain.TicketTier{
			1: {
				{ID: 7, EventID: 1, Name: "General", PriceCents: 5000, Capacity: 80, DisplayOrder: 0},
				{ID: 8, EventID: 1, Name: "VIP", PriceCents: 12000, Capacity: 20, DisplayOrder: 1},
			},
		},
		availability: map[int64]*domain.EventAvailability{
			1: {EventID: 1, TotalCapacity: 100, TotalRegistered: 40, Available: 55},
		},
	}
	return New(store, nil, Config{}), store
}

func TestGetEvent(t *testing.T) {
	svc, _ := newTestService()

	e, err := svc.GetEvent(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "GopherCon", e.Name)
}

func TestGetEventNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.GetEvent(context.Background(), 99)
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestListTiers(t *testing.T) {
	svc, _ := newTestService()

	tiers, err := svc.ListTiers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	require.Equal(t, "General", tiers[0].Name)

	_, err = svc.ListTiers(context.Background(), 99)
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestAvailability(t *testing.T) {
	svc, _ := newTestService()

	a, err := svc.Availability(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int32(55), a.Available)

	_, err = svc.Availability(context.Background(), 99)
	require.ErrorIs(t, err, ErrEventNotFound)
}
