// Package model содержит доменные сущности сервиса ателье.
package model

import "time"

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPickup     OrderStatus = "pickup"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// IsTerminal сообщает, является ли статус терминальным.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// DeliveryMethod описывает способ получения заказа.
type DeliveryMethod string

const (
	DeliveryMethodPickup DeliveryMethod = "pickup"
	DeliveryMethodPost   DeliveryMethod = "post"
)

// ServiceSelection описывает одну услугу, выбранную для вещи в заказе.
type ServiceSelection struct {
	ServiceID     string `json:"serviceId"`
	ServiceName   string `json:"serviceName,omitempty"`
	BasePrice     int64  `json:"basePrice"`
	TotalPrice    int64  `json:"totalPrice"`
	FittingChoice string `json:"fittingChoice,omitempty"`
	TailorNotes   string `json:"tailorNotes,omitempty"`
}

// ItemCategory описывает категорию вещи (рубашки, брюки и т.д.).
type ItemCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OrderItem описывает одну вещь заказа с набором выбранных услуг.
type OrderItem struct {
	ItemID       string             `json:"itemId"`
	ItemName     string             `json:"itemName,omitempty"`
	ItemCategory ItemCategory       `json:"itemCategory"`
	Services     []ServiceSelection `json:"services"`
}

// DeliveryInfo содержит данные самовывоза: дату, окно и стоимость в пенсах.
type DeliveryInfo struct {
	PickupDate string `json:"pickup_date"`
	PickupTime string `json:"pickup_time"`
	PickupCost int64  `json:"pickup_cost"`
}

// BillingAddress содержит почтовый адрес доставки.
type BillingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Order описывает заказ пользователя. Все суммы хранятся в пенсах.
type Order struct {
	ID              string
	UserID          string
	PaymentIntentID string
	TotalAmount     int64
	Currency        string
	Status          OrderStatus
	DeliveryMethod  DeliveryMethod
	DeliveryInfo    *DeliveryInfo
	BillingAddress  *BillingAddress
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	Items           []OrderItem
	// ReservationToken хранит токен брони окна самовывоза, пока заказ её удерживает.
	ReservationToken string
	FreeCreditUsed   bool
	OrderedAt        time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LoyaltyProgress описывает прогресс пользователя в программе лояльности.
// CompletedOrders держится в диапазоне 0..4 и сбрасывается на пятом заказе.
type LoyaltyProgress struct {
	UserID                 string     `json:"user_id"`
	CompletedOrders        int        `json:"completed_orders"`
	LifetimeOrders         int64      `json:"lifetime_orders"`
	TotalFreeOrdersClaimed int64      `json:"total_free_orders_claimed"`
	FreeCredits            int        `json:"free_credits"`
	LastFreeOrderDate      *time.Time `json:"last_free_order_date"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// DeliveryOptions содержит тарифы доставки магазина в пенсах.
type DeliveryOptions struct {
	PickupChargePence          int64    `json:"pickup_charge_pence"`
	PostDeliveryChargePence    int64    `json:"post_delivery_charge_pence"`
	FreeDeliveryThresholdPence int64    `json:"free_delivery_threshold_pence"`
	Currency                   string   `json:"currency"`
	AvailableMethods           []string `json:"available_methods"`
}

// PickupWindow описывает одно окно самовывоза с лимитом броней.
type PickupWindow struct {
	Label       string `json:"label"`
	MaxBookings int    `json:"max_bookings"`
}

// PickupSchedule задаёт доступные окна самовывоза по дням недели.
// Пустой список окон означает, что в этот день брони не принимаются.
type PickupSchedule struct {
	Monday    []PickupWindow `json:"monday"`
	Tuesday   []PickupWindow `json:"tuesday"`
	Wednesday []PickupWindow `json:"wednesday"`
	Thursday  []PickupWindow `json:"thursday"`
	Friday    []PickupWindow `json:"friday"`
	Saturday  []PickupWindow `json:"saturday"`
	Sunday    []PickupWindow `json:"sunday"`
}

// WindowsFor возвращает окна самовывоза для указанного дня недели.
func (s PickupSchedule) WindowsFor(day time.Weekday) []PickupWindow {
	switch day {
	case time.Monday:
		return s.Monday
	case time.Tuesday:
		return s.Tuesday
	case time.Wednesday:
		return s.Wednesday
	case time.Thursday:
		return s.Thursday
	case time.Friday:
		return s.Friday
	case time.Saturday:
		return s.Saturday
	default:
		return s.Sunday
	}
}

// ShopInfo содержит справочные данные магазина.
type ShopInfo struct {
	Name         string `json:"name"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
}

// ShopConfig объединяет справочную конфигурацию магазина, загружаемую при старте.
type ShopConfig struct {
	Info            ShopInfo
	DeliveryOptions DeliveryOptions
	PickupSchedule  PickupSchedule
}
