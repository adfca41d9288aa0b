package domain

import (
	"strings"
	"time"
)

// ShippingAddress: адрес доставки. Черновик (без ID) становится сохранённым адресом
// только после успешной записи в Address Store.
type ShippingAddress struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	AddressLine1 string    `json:"address_line1"`
	AddressLine2 string    `json:"address_line2,omitempty"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	PostalCode   string    `json:"postal_code"`
	Country      string    `json:"country"`
	Phone        string    `json:"phone,omitempty"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// IsDraft сообщает, что адрес ещё не сохранён.
func (a ShippingAddress) IsDraft() bool {
	return a.ID == ""
}

// Normalize обрезает пробелы во всех текстовых полях.
func (a ShippingAddress) Normalize() ShippingAddress {
	a.Name = strings.TrimSpace(a.Name)
	a.AddressLine1 = strings.TrimSpace(a.AddressLine1)
	a.AddressLine2 = strings.TrimSpace(a.AddressLine2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.TrimSpace(a.Country)
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

// Validate проверяет обязательные поля: name, address_line1, city, state, postal_code, country.
func (a ShippingAddress) Validate() []error {
	a = a.Normalize()
	var errs []error

	if a.Name == "" {
		errs = append(errs, ErrAddressNameRequired)
	}
	if a.AddressLine1 == "" {
		errs = append(errs, ErrAddressLine1Required)
	}
	if a.City == "" {
		errs = append(errs, ErrAddressCityRequired)
	}
	if a.State == "" {
		errs = append(errs, ErrAddressStateRequired)
	}
	if a.PostalCode == "" {
		errs = append(errs, ErrAddressPostalCodeRequired)
	}
	if a.Country == "" {
		errs = append(errs, ErrAddressCountryRequired)
	}

	return errs
}

// AddressPatch: частичное обновление адреса; nil-поля не меняются.
type AddressPatch struct {
	Name         *string `json:"name,omitempty"`
	AddressLine1 *string `json:"address_line1,omitempty"`
	AddressLine2 *string `json:"address_line2,omitempty"`
	City         *string `json:"city,omitempty"`
	State        *string `json:"state,omitempty"`
	PostalCode   *string `json:"postal_code,omitempty"`
	Country      *string `json:"country,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	IsDefault    *bool   `json:"is_default,omitempty"`
}

// Apply применяет патч к адресу.
func (p AddressPatch) Apply(a ShippingAddress) ShippingAddress {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&a.Name, p.Name)
	set(&a.AddressLine1, p.AddressLine1)
	set(&a.AddressLine2, p.AddressLine2)
	set(&a.City, p.City)
	set(&a.State, p.State)
	set(&a.PostalCode, p.PostalCode)
	set(&a.Country, p.Country)
	set(&a.Phone, p.Phone)
	if p.IsDefault != nil {
		a.IsDefault = *p.IsDefault
	}
	return a
}

// SelectDefault возвращает индекс адреса с флагом по умолчанию. Чистая функция без I/O.
func SelectDefault(addresses []ShippingAddress) (int, bool) {
	for i, addr := range addresses {
		if addr.IsDefault {
			return i, true
		}
	}
	return -1, false
}
