package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yuta-hayashi/eventcap/internal/repository"
	postgresrepo "github.com/yuta-hayashi/eventcap/internal/repository/postgres"
)

type fakeStore struct {
	events  map[int64]bool
	names   map[string]bool
	nextID  int64
	tierIDs []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[int64]bool), names: make(map[string]bool)}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) CreateEvent(ctx context.Context, p postgresrepo.CreateEventParams) (int64, error) {
	if f.names[p.Name] {
		return 0, repository.ErrConflict
	}
	f.names[p.Name] = true
	f.nextID++
	f.events[f.nextID] = true
	return f.nextID, nil
}

func (f *fakeStore) CreateTier(ctx context.Context, p postgresrepo.CreateTierParams) (int64, error) {
	if !f.events[p.EventID] {
		return 0, repository.ErrNotFound
	}
	f.nextID++
	f.tierIDs = append(f.tierIDs, f.nextID)
	return f.nextID, nil
}

func (f *fakeStore) CreateSubEvent(ctx context.Context, eventID int64, name string, priceCents int64) (int64, error) {
	if !f.events[eventID] {
		return 0, repository.ErrNotFound
	}
	f.nextID++
	return f.nextID, nil
}

type invalidations struct {
	eventIDs []int64
}

func (i *invalidations) InvalidateEvent(ctx context.Context, eventID int64) error {
	i.eventIDs = append(i.eventIDs, eventID)
	return nil
}

func TestCreateEvent(t *testing.T) {
	svc := New(newFakeStore(), nil, nil)

	id, err := svc.CreateEvent(context.Background(), postgresrepo.CreateEventParams{
		Name:     "GopherCon",
		Date:     time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
		Capacity: 100,
		FeeCents: 5000,
		Currency: "CAD",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)
}

func TestCreateEventConflict(t *testing.T) {
	svc := New(newFakeStore(), nil, nil)

	params := postgresrepo.CreateEventParams{Name: "GopherCon", Capacity: 100}
	_, err := svc.CreateEvent(context.Background(), params)
	require.NoError(t, err)

	_, err = svc.CreateEvent(context.Background(), params)
	require.ErrorIs(t, err, ErrEventConflict)
}

func TestCreateTierInvalidatesCache(t *testing.T) {
	store := newFakeStore()
	inv := &invalidations{}
	svc := New(store, inv, nil)

	eventID, err := svc.CreateEvent(context.Background(), postgresrepo.CreateEventParams{Name: "GopherCon", Capacity: 100})
	require.NoError(t, err)

	_, err = svc.CreateTier(context.Background(), postgresrepo.CreateTierParams{
		EventID:    eventID,
		Name:       "VIP",
		PriceCents: 12000,
		Capacity:   20,
	})
	require.NoError(t, err)
	require.Equal(t, []int64{eventID}, inv.eventIDs)
}

func TestCreateTierUnknownEvent(t *testing.T) {
	svc := New(newFakeStore(), nil, nil)

	_, err := svc.CreateTier(context.Background(), postgresrepo.CreateTierParams{EventID: 99, Name: "VIP"})
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestCreateSubEventUnknownEvent(t *testing.T) {
	svc := New(newFakeStore(), nil, nil)

	_, err := svc.CreateSubEvent(context.Background(), 99, "Workshop", 1500)
	require.ErrorIs(t, err, ErrEventNotFound)
}
