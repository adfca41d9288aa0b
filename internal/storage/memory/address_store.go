package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// AddressStore: in-memory адресная книга. Снятие старого флага по умолчанию и
// установка нового выполняются под одной блокировкой, поэтому читатель никогда
// не видит два адреса по умолчанию.
type AddressStore struct {
	mu     sync.RWMutex
	owners map[string]map[string]domain.ShippingAddress
	now    func() time.Time
}

var _ domain.AddressStore = (*AddressStore)(nil)

// NewAddressStore создаёт пустую адресную книгу.
func NewAddressStore() *AddressStore {
	return &AddressStore{
		owners: make(map[string]map[string]domain.ShippingAddress),
		now:    time.Now,
	}
}

// List возвращает адреса владельца в порядке создания.
func (s *AddressStore) List(_ context.Context, ownerID string) ([]domain.ShippingAddress, error) {
	if ownerID == "" {
		return nil, domain.ErrOwnerRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	book := s.owners[ownerID]
	result := make([]domain.ShippingAddress, 0, len(book))
	for _, addr := range book {
		result = append(result, addr)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Create сохраняет новый адрес и возвращает его идентификатор.
func (s *AddressStore) Create(_ context.Context, ownerID string, address domain.ShippingAddress) (string, error) {
	if ownerID == "" {
		return "", domain.ErrOwnerRequired
	}
	address = address.Normalize()
	if errs := address.Validate(); len(errs) > 0 {
		return "", errs[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.owners[ownerID]
	if !ok {
		book = make(map[string]domain.ShippingAddress)
		s.owners[ownerID] = book
	}
	if address.IsDefault {
		clearDefaults(book, "")
	}

	now := s.now().UTC()
	address.ID = uuid.NewString()
	address.CreatedAt = now
	address.UpdatedAt = now
	book[address.ID] = address
	return address.ID, nil
}

// Update применяет патч к адресу владельца.
func (s *AddressStore) Update(_ context.Context, ownerID, addressID string, patch domain.AddressPatch) error {
	if ownerID == "" {
		return domain.ErrOwnerRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	book := s.owners[ownerID]
	current, ok := book[addressID]
	if !ok {
		return domain.ErrAddressNotFound
	}

	updated := patch.Apply(current).Normalize()
	if errs := updated.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if updated.IsDefault {
		clearDefaults(book, addressID)
	}
	updated.UpdatedAt = s.now().UTC()
	book[addressID] = updated
	return nil
}

func clearDefaults(book map[string]domain.ShippingAddress, keepID string) {
	for id, addr := range book {
		if id != keepID && addr.IsDefault {
			addr.IsDefault = false
			book[id] = addr
		}
	}
}
