package address_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/address"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

// flakyStore проваливает первые failures вызовов Create и первые listFailures
// вызовов List, затем делегирует memory-хранилищу.
type flakyStore struct {
	*memory.AddressStore

	mu           sync.Mutex
	failures     int
	listFailures int
	creates      int
	err          error
}

func (s *flakyStore) List(ctx context.Context, ownerID string) ([]domain.ShippingAddress, error) {
	s.mu.Lock()
	fail := s.listFailures > 0
	if fail {
		s.listFailures--
	}
	s.mu.Unlock()
	if fail {
		return nil, s.err
	}
	return s.AddressStore.List(ctx, ownerID)
}

func (s *flakyStore) Create(ctx context.Context, ownerID string, addr domain.ShippingAddress) (string, error) {
	s.mu.Lock()
	s.creates++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return "", s.err
	}
	return s.AddressStore.Create(ctx, ownerID, addr)
}

func newFlaky(failures int) *flakyStore {
	return &flakyStore{AddressStore: memory.NewAddressStore(), failures: failures, err: errors.New("store unavailable")}
}

func newResolver(store domain.AddressStore) *address.Resolver {
	return address.NewResolver(store, address.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, nil, nil)
}

func draft() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:         "Dana Levi",
		AddressLine1: "1 Herzl St",
		City:         "Tel Aviv",
		State:        "TA",
		PostalCode:   "6100000",
		Country:      "IL",
	}
}

func TestSaveWithRetry_SucceedsOnThirdAttempt(t *testing.T) {
	store := newFlaky(2)

	id, err := newResolver(store).SaveWithRetry(context.Background(), "u-1", draft(), false)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 3, store.creates)
}

func TestSaveWithRetry_ReturnsLastFailureAfterThreeAttempts(t *testing.T) {
	store := newFlaky(100)

	_, err := newResolver(store).SaveWithRetry(context.Background(), "u-1", draft(), false)
	require.ErrorIs(t, err, store.err)
	assert.Equal(t, 3, store.creates)
}

func TestSaveWithRetry_FirstAddressBecomesDefault(t *testing.T) {
	store := memory.NewAddressStore()
	ctx := context.Background()

	d := draft()
	d.IsDefault = false
	_, err := newResolver(store).SaveWithRetry(ctx, "u-1", d, true)
	require.NoError(t, err)

	list, err := store.List(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDefault)
}

func TestSaveWithRetry_HonoursDraftDefaultAndKeepsSingleDefault(t *testing.T) {
	store := memory.NewAddressStore()
	ctx := context.Background()
	r := newResolver(store)

	_, err := r.SaveWithRetry(ctx, "u-1", draft(), true)
	require.NoError(t, err)

	d := draft()
	d.City = "Haifa"
	d.IsDefault = true
	second, err := r.SaveWithRetry(ctx, "u-1", d, false)
	require.NoError(t, err)

	list, err := store.List(ctx, "u-1")
	require.NoError(t, err)
	defaults := 0
	for _, a := range list {
		if a.IsDefault {
			defaults++
			assert.Equal(t, second, a.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSaveWithRetry_ContextCancelStopsWaiting(t *testing.T) {
	store := newFlaky(100)
	r := address.NewResolver(store, address.RetryConfig{MaxAttempts: 3, Delay: time.Hour}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.SaveWithRetry(ctx, "u-1", draft(), false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.creates)
}

func TestResolve_ValidationErrorMakesNoStoreCall(t *testing.T) {
	store := newFlaky(0)
	d := draft()
	d.City = ""

	_, err := newResolver(store).Resolve(context.Background(), "u-1", address.Selection{Draft: &d})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, domain.ErrAddressCityRequired)
	assert.Contains(t, domain.UserMessage(err), "city")
	assert.Zero(t, store.creates)
}

func TestResolve_DraftForOwnerIsSaved(t *testing.T) {
	store := memory.NewAddressStore()
	d := draft()

	addr, err := newResolver(store).Resolve(context.Background(), "u-1", address.Selection{Draft: &d})
	require.NoError(t, err)
	assert.NotEmpty(t, addr.ID)
	assert.True(t, addr.IsDefault)
}

func TestResolve_GuestDraftIsNotSaved(t *testing.T) {
	store := newFlaky(0)
	d := draft()

	addr, err := newResolver(store).Resolve(context.Background(), "", address.Selection{Draft: &d})
	require.NoError(t, err)
	assert.True(t, addr.IsDraft())
	assert.Zero(t, store.creates)
}

func TestResolve_ExhaustedRetriesIsAddressSaveError(t *testing.T) {
	d := draft()
	_, err := newResolver(newFlaky(100)).Resolve(context.Background(), "u-1", address.Selection{Draft: &d})
	require.ErrorIs(t, err, domain.ErrAddressSave)
}

func TestResolve_SavedAddressAndPreselect(t *testing.T) {
	store := memory.NewAddressStore()
	ctx := context.Background()
	r := newResolver(store)

	first, err := r.SaveWithRetry(ctx, "u-1", draft(), true)
	require.NoError(t, err)

	preselected, err := r.Preselect(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, first, preselected)

	addr, err := r.Resolve(ctx, "u-1", address.Selection{AddressID: first})
	require.NoError(t, err)
	assert.Equal(t, "Tel Aviv", addr.City)

	_, err = r.Resolve(ctx, "u-1", address.Selection{AddressID: "missing"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.Resolve(ctx, "u-1", address.Selection{})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolve_TransientListFailureIsRetried(t *testing.T) {
	store := newFlaky(0)
	store.listFailures = 1

	d := draft()
	resolved, err := newResolver(store).Resolve(context.Background(), "u-1", address.Selection{Draft: &d})
	require.NoError(t, err)
	assert.NotEmpty(t, resolved.ID)
	assert.True(t, resolved.IsDefault)
	assert.Equal(t, 1, store.creates)
}

func TestResolve_ListFailuresCountAgainstAttempts(t *testing.T) {
	store := newFlaky(0)
	store.listFailures = 3

	d := draft()
	_, err := newResolver(store).Resolve(context.Background(), "u-1", address.Selection{Draft: &d})
	require.ErrorIs(t, err, domain.ErrAddressSave)
	assert.Zero(t, store.creates)
}

func TestUpdate_SetDefaultMovesFlag(t *testing.T) {
	store := memory.NewAddressStore()
	ctx := context.Background()
	r := newResolver(store)

	first, err := r.SaveWithRetry(ctx, "u-1", draft(), true)
	require.NoError(t, err)
	second, err := r.SaveWithRetry(ctx, "u-1", draft(), false)
	require.NoError(t, err)

	def := true
	city := "Haifa"
	updated, err := r.Update(ctx, "u-1", second, domain.AddressPatch{IsDefault: &def, City: &city})
	require.NoError(t, err)
	assert.True(t, updated.IsDefault)
	assert.Equal(t, "Haifa", updated.City)

	preselected, err := r.Preselect(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, second, preselected)

	list, err := store.List(ctx, "u-1")
	require.NoError(t, err)
	for _, addr := range list {
		if addr.ID == first {
			assert.False(t, addr.IsDefault, "previous default is cleared")
		}
	}
}

func TestUpdate_Errors(t *testing.T) {
	store := memory.NewAddressStore()
	ctx := context.Background()
	r := newResolver(store)
	id, err := r.SaveWithRetry(ctx, "u-1", draft(), true)
	require.NoError(t, err)

	empty := ""
	_, err = r.Update(ctx, "u-1", id, domain.AddressPatch{City: &empty})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "Please fill in: city", domain.UserMessage(err))

	_, err = r.Update(ctx, "u-1", "missing", domain.AddressPatch{})
	require.ErrorIs(t, err, domain.ErrAddressNotFound)

	_, err = r.Update(ctx, "u-2", id, domain.AddressPatch{})
	require.ErrorIs(t, err, domain.ErrAddressNotFound, "another owner's address is not visible")

	_, err = r.Update(ctx, "", id, domain.AddressPatch{})
	require.ErrorIs(t, err, domain.ErrOwnerRequired)
}
