package pricing

import (
	"errors"
	"testing"

	"github.com/houseoftailors/atelier/internal/model"
)

func testOptions() model.DeliveryOptions {
	return model.DeliveryOptions{
		PickupChargePence:          1000,
		PostDeliveryChargePence:    499,
		FreeDeliveryThresholdPence: 5000,
		Currency:                   "GBP",
		AvailableMethods:           []string{"pickup", "post"},
	}
}

func itemWithServices(id string, prices ...int64) model.OrderItem {
	item := model.OrderItem{
		ItemID:       id,
		ItemCategory: model.ItemCategory{ID: "shirts", Name: "Shirts"},
	}
	for _, p := range prices {
		item.Services = append(item.Services, model.ServiceSelection{
			ServiceID:  "hemming",
			BasePrice:  p,
			TotalPrice: p,
		})
	}
	return item
}

func TestPrice_PickupFlatCharge(t *testing.T) {
	calc, err := NewCalculator(testOptions())
	if err != nil {
		t.Fatalf("NewCalculator error: %v", err)
	}

	// Две рубашки с подгибом по 15 фунтов, самовывоз 10 фунтов, порог не достигнут.
	items := []model.OrderItem{
		itemWithServices("shirt-1", 1500),
		itemWithServices("shirt-2", 1500),
	}

	quote, err := calc.Price(items, model.DeliveryMethodPickup)
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}

	if quote.ItemsTotal != 3000 {
		t.Fatalf("ItemsTotal = %d, want 3000", quote.ItemsTotal)
	}
	if quote.DeliveryCharge != 1000 {
		t.Fatalf("DeliveryCharge = %d, want 1000", quote.DeliveryCharge)
	}
	if quote.GrandTotal != 4000 {
		t.Fatalf("GrandTotal = %d, want 4000", quote.GrandTotal)
	}
}

func TestPrice_PostFreeOverThreshold(t *testing.T) {
	calc, err := NewCalculator(testOptions())
	if err != nil {
		t.Fatalf("NewCalculator error: %v", err)
	}

	items := []model.OrderItem{
		itemWithServices("suit-1", 3000, 2500),
	}

	quote, err := calc.Price(items, model.DeliveryMethodPost)
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}

	if quote.ItemsTotal != 5500 {
		t.Fatalf("ItemsTotal = %d, want 5500", quote.ItemsTotal)
	}
	if quote.DeliveryCharge != 0 {
		t.Fatalf("DeliveryCharge = %d, want 0 over free delivery threshold", quote.DeliveryCharge)
	}
	if quote.GrandTotal != quote.ItemsTotal+quote.DeliveryCharge {
		t.Fatalf("GrandTotal = %d, want itemsTotal+deliveryCharge", quote.GrandTotal)
	}
}

func TestPrice_PostChargedUnderThreshold(t *testing.T) {
	calc, err := NewCalculator(testOptions())
	if err != nil {
		t.Fatalf("NewCalculator error: %v", err)
	}

	items := []model.OrderItem{itemWithServices("shirt-1", 1500)}

	quote, err := calc.Price(items, model.DeliveryMethodPost)
	if err != nil {
		t.Fatalf("Price error: %v", err)
	}
	if quote.DeliveryCharge != 499 {
		t.Fatalf("DeliveryCharge = %d, want 499", quote.DeliveryCharge)
	}
}

func TestPrice_EmptyOrder(t *testing.T) {
	calc, err := NewCalculator(testOptions())
	if err != nil {
		t.Fatalf("NewCalculator error: %v", err)
	}

	_, err = calc.Price(nil, model.DeliveryMethodPickup)
	if !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder, got %v", err)
	}

	_, err = calc.Price([]model.OrderItem{{ItemID: "shirt-1"}}, model.DeliveryMethodPickup)
	if !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("expected ErrEmptyOrder for item without services, got %v", err)
	}
}

func TestPrice_UnknownMethod(t *testing.T) {
	calc, err := NewCalculator(testOptions())
	if err != nil {
		t.Fatalf("NewCalculator error: %v", err)
	}

	_, err = calc.Price([]model.OrderItem{itemWithServices("shirt-1", 1500)}, model.DeliveryMethod("courier"))
	if !errors.Is(err, ErrUnknownDeliveryMethod) {
		t.Fatalf("expected ErrUnknownDeliveryMethod, got %v", err)
	}
}

func TestNewCalculator_InvalidConfiguration(t *testing.T) {
	opts := testOptions()
	opts.Currency = ""

	if _, err := NewCalculator(opts); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}

	opts = testOptions()
	opts.PickupChargePence = -1
	if _, err := NewCalculator(opts); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for negative charge, got %v", err)
	}
}
