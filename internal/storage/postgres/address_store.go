package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// AddressStore хранит адресную книгу. Снятие старого адреса по умолчанию и запись
// нового идут в одной транзакции; частичный уникальный индекс по is_default
// отсекает второй адрес по умолчанию на уровне базы.
type AddressStore struct {
	store *Store
}

var _ domain.AddressStore = (*AddressStore)(nil)

// NewAddressStore создаёт PostgreSQL-реализацию AddressStore.
func NewAddressStore(store *Store) *AddressStore {
	return &AddressStore{store: store}
}

// List возвращает адреса владельца в порядке создания.
func (s *AddressStore) List(ctx context.Context, ownerID string) ([]domain.ShippingAddress, error) {
	if ownerID == "" {
		return nil, domain.ErrOwnerRequired
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, name, address_line1, address_line2, city, state, postal_code,
		       country, phone, is_default, created_at, updated_at
		FROM shipping_addresses
		WHERE owner_id = $1
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ShippingAddress, 0)
	for rows.Next() {
		var a domain.ShippingAddress
		if err := rows.Scan(&a.ID, &a.Name, &a.AddressLine1, &a.AddressLine2, &a.City, &a.State,
			&a.PostalCode, &a.Country, &a.Phone, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate addresses: %w", err)
	}
	return result, nil
}

// Create сохраняет новый адрес.
func (s *AddressStore) Create(ctx context.Context, ownerID string, address domain.ShippingAddress) (string, error) {
	if ownerID == "" {
		return "", domain.ErrOwnerRequired
	}
	address = address.Normalize()
	if errs := address.Validate(); len(errs) > 0 {
		return "", errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id := uuid.NewString()
	now := time.Now().UTC()
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		if address.IsDefault {
			if err := unsetDefault(ctx, tx, ownerID, ""); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shipping_addresses (
				id, owner_id, name, address_line1, address_line2, city, state,
				postal_code, country, phone, is_default, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		`, id, ownerID, address.Name, address.AddressLine1, address.AddressLine2, address.City,
			address.State, address.PostalCode, address.Country, address.Phone, address.IsDefault, now)
		if err != nil {
			return fmt.Errorf("insert address: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update применяет патч под блокировкой строки.
func (s *AddressStore) Update(ctx context.Context, ownerID, addressID string, patch domain.AddressPatch) error {
	if ownerID == "" {
		return domain.ErrOwnerRequired
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		var a domain.ShippingAddress
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, address_line1, address_line2, city, state, postal_code,
			       country, phone, is_default
			FROM shipping_addresses
			WHERE owner_id = $1 AND id = $2
			FOR UPDATE
		`, ownerID, addressID).Scan(&a.ID, &a.Name, &a.AddressLine1, &a.AddressLine2, &a.City,
			&a.State, &a.PostalCode, &a.Country, &a.Phone, &a.IsDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAddressNotFound
		}
		if err != nil {
			return fmt.Errorf("select address: %w", err)
		}

		updated := patch.Apply(a).Normalize()
		if errs := updated.Validate(); len(errs) > 0 {
			return errs[0]
		}
		if updated.IsDefault {
			if err := unsetDefault(ctx, tx, ownerID, addressID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE shipping_addresses
			SET name = $3, address_line1 = $4, address_line2 = $5, city = $6, state = $7,
			    postal_code = $8, country = $9, phone = $10, is_default = $11, updated_at = $12
			WHERE owner_id = $1 AND id = $2
		`, ownerID, addressID, updated.Name, updated.AddressLine1, updated.AddressLine2, updated.City,
			updated.State, updated.PostalCode, updated.Country, updated.Phone, updated.IsDefault, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("update address: %w", err)
		}
		return nil
	})
}

func unsetDefault(ctx context.Context, tx *sql.Tx, ownerID, keepID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE shipping_addresses
		SET is_default = FALSE, updated_at = NOW()
		WHERE owner_id = $1 AND is_default AND id <> $2
	`, ownerID, keepID); err != nil {
		return fmt.Errorf("unset default address: %w", err)
	}
	return nil
}
