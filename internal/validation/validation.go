// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/houseoftailors/atelier/internal/model"
)

// ErrValidation помечает все ошибки валидации входных данных.
var ErrValidation = errors.New("validation error")

// ValidateItems проверяет состав заказа: вещи присутствуют, у каждой вещи
// есть хотя бы одна услуга, цены услуг неотрицательны.
func ValidateItems(items []model.OrderItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for _, item := range items {
		if item.ItemID == "" {
			return fmt.Errorf("%w: item without id", ErrValidation)
		}
		if len(item.Services) == 0 {
			return fmt.Errorf("%w: item %q has no services", ErrValidation, item.ItemID)
		}
		for _, svc := range item.Services {
			if svc.ServiceID == "" {
				return fmt.Errorf("%w: service without id on item %q", ErrValidation, item.ItemID)
			}
			if svc.BasePrice < 0 || svc.TotalPrice < 0 {
				return fmt.Errorf("%w: negative price for service %q", ErrValidation, svc.ServiceID)
			}
		}
	}
	return nil
}

// ValidateDeliveryMethod проверяет, что способ доставки известен системе.
func ValidateDeliveryMethod(method model.DeliveryMethod) error {
	switch method {
	case model.DeliveryMethodPickup, model.DeliveryMethodPost:
		return nil
	default:
		return fmt.Errorf("%w: unknown delivery method %q", ErrValidation, method)
	}
}

// ValidatePickupDate проверяет формат даты самовывоза (YYYY-MM-DD).
func ValidatePickupDate(date string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: invalid pickup date %q", ErrValidation, date)
	}
	return nil
}

// ValidateBillingAddress проверяет обязательные поля почтового адреса.
func ValidateBillingAddress(addr *model.BillingAddress) error {
	if addr == nil {
		return fmt.Errorf("%w: billing address is required for post delivery", ErrValidation)
	}
	if addr.Line1 == "" || addr.City == "" || addr.PostalCode == "" || addr.Country == "" {
		return fmt.Errorf("%w: incomplete billing address", ErrValidation)
	}
	return nil
}
