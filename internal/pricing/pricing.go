// Package pricing реализует расчёт стоимости заказа и доставки.
package pricing

import (
	"errors"
	"fmt"

	"github.com/houseoftailors/atelier/internal/model"
)

// ErrEmptyOrder возвращается при попытке рассчитать заказ без вещей.
var (
	ErrEmptyOrder = errors.New("order has no items")
	// ErrInvalidConfiguration возвращается, если в тарифах доставки нет обязательного поля.
	ErrInvalidConfiguration = errors.New("invalid delivery configuration")
	// ErrUnknownDeliveryMethod возвращается для неизвестного способа доставки.
	ErrUnknownDeliveryMethod = errors.New("unknown delivery method")
)

// Quote содержит результат расчёта стоимости заказа. Все суммы в пенсах.
type Quote struct {
	ItemsTotal     int64
	DeliveryCharge int64
	GrandTotal     int64
}

// Calculator рассчитывает стоимость заказа по справочным тарифам доставки.
// Тарифы неизменяемы после создания калькулятора.
type Calculator struct {
	opts model.DeliveryOptions
}

// NewCalculator создаёт калькулятор и проверяет полноту тарифов.
func NewCalculator(opts model.DeliveryOptions) (*Calculator, error) {
	if opts.PickupChargePence < 0 || opts.PostDeliveryChargePence < 0 {
		return nil, fmt.Errorf("%w: negative delivery charge", ErrInvalidConfiguration)
	}
	if opts.FreeDeliveryThresholdPence < 0 {
		return nil, fmt.Errorf("%w: negative free delivery threshold", ErrInvalidConfiguration)
	}
	if opts.Currency == "" {
		return nil, fmt.Errorf("%w: currency is not set", ErrInvalidConfiguration)
	}
	return &Calculator{opts: opts}, nil
}

// Price рассчитывает стоимость вещей, доставки и итог заказа.
// Каждая вещь может нести несколько услуг, услуги ценятся независимо.
func (c *Calculator) Price(items []model.OrderItem, method model.DeliveryMethod) (Quote, error) {
	if len(items) == 0 {
		return Quote{}, ErrEmptyOrder
	}

	var itemsTotal int64
	for _, item := range items {
		if len(item.Services) == 0 {
			return Quote{}, fmt.Errorf("%w: item %q has no services", ErrEmptyOrder, item.ItemID)
		}
		for _, svc := range item.Services {
			if svc.TotalPrice < 0 {
				return Quote{}, fmt.Errorf("%w: negative price for service %q", ErrInvalidConfiguration, svc.ServiceID)
			}
			itemsTotal += svc.TotalPrice
		}
	}

	charge, err := c.deliveryCharge(method, itemsTotal)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		ItemsTotal:     itemsTotal,
		DeliveryCharge: charge,
		GrandTotal:     itemsTotal + charge,
	}, nil
}

// deliveryCharge возвращает стоимость доставки для выбранного способа.
// Почтовая доставка бесплатна при достижении порога по стоимости вещей.
func (c *Calculator) deliveryCharge(method model.DeliveryMethod, itemsTotal int64) (int64, error) {
	switch method {
	case model.DeliveryMethodPickup:
		return c.opts.PickupChargePence, nil
	case model.DeliveryMethodPost:
		if itemsTotal >= c.opts.FreeDeliveryThresholdPence {
			return 0, nil
		}
		return c.opts.PostDeliveryChargePence, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownDeliveryMethod, method)
	}
}

// Currency возвращает код валюты тарифов.
func (c *Calculator) Currency() string {
	return c.opts.Currency
}
