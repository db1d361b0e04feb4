// Package service реализует бизнес-логику сервиса ателье: жизненный цикл
// заказа и его побочные эффекты на брони самовывоза и программу лояльности.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/houseoftailors/atelier/internal/loyalty"
	"github.com/houseoftailors/atelier/internal/model"
	"github.com/houseoftailors/atelier/internal/pricing"
	"github.com/houseoftailors/atelier/internal/repository"
	"github.com/houseoftailors/atelier/internal/slot"
	"github.com/houseoftailors/atelier/internal/validation"
)

// ErrSlotUnavailable возвращается, когда окно самовывоза занято и заказ не создан.
var (
	ErrSlotUnavailable = errors.New("pickup slot unavailable")
	// ErrAlreadyCompleted возвращается при повторном переводе заказа в completed.
	ErrAlreadyCompleted = errors.New("order already completed")
	// ErrTerminalState возвращается при попытке перевода заказа из терминального статуса.
	ErrTerminalState = errors.New("order is in terminal state")
	// ErrInvalidTransition возвращается при переходе, пропускающем состояния.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvariantViolation помечает нарушение инварианта, например утечку брони.
	// Такие ошибки не ретраятся и всегда логируются.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	// TransitionOrder атомарно переводит заказ из одного из статусов from в статус to.
	// При конфликте возвращает repository.ErrStatusConflict и фактический статус заказа.
	TransitionOrder(ctx context.Context, orderID string, from []model.OrderStatus, to model.OrderStatus, now time.Time) (*model.Order, model.OrderStatus, error)
}

// Allocator описывает контракт аллокатора окон самовывоза.
type Allocator interface {
	Reserve(date, window string) (slot.Reservation, error)
	Release(token string) error
	Prune() int
}

// Ledger описывает контракт реестра лояльности.
type Ledger interface {
	RecordCompletion(ctx context.Context, userID string) (loyalty.CompletionResult, error)
	RedeemCredit(ctx context.Context, userID string) (loyalty.Credit, error)
	ReturnCredit(ctx context.Context, userID string) error
	GetProgress(ctx context.Context, userID string) (model.LoyaltyProgress, error)
}

// Service содержит бизнес-логику сервиса ателье.
type Service struct {
	repo      Repository
	calc      *pricing.Calculator
	allocator Allocator
	ledger    Ledger
	logger    *zap.Logger
	now       func() time.Time
}

// Option настраивает сервис при создании.
type Option func(*Service)

// WithClock подменяет источник текущего времени. Используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, calc *pricing.Calculator, allocator Allocator, ledger Ledger, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		calc:      calc,
		allocator: allocator,
		ledger:    ledger,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrderRequest описывает запрос на создание заказа.
type CreateOrderRequest struct {
	UserID          string
	PaymentIntentID string
	DeliveryMethod  model.DeliveryMethod
	PickupDate      string
	PickupTime      string
	BillingAddress  *model.BillingAddress
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	Items           []model.OrderItem
	UseFreeCredit   bool
}

// CreateOrder создаёт заказ: рассчитывает стоимость, бронирует окно
// самовывоза и сохраняет заказ в начальном статусе. Если любой из
// последующих шагов не удался, уже занятые ресурсы возвращаются
// явными компенсирующими вызовами, и заказ не сохраняется.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*model.Order, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	quote, err := s.calc.Price(req.Items, req.DeliveryMethod)
	if err != nil {
		if errors.Is(err, pricing.ErrEmptyOrder) || errors.Is(err, pricing.ErrUnknownDeliveryMethod) {
			return nil, fmt.Errorf("%w: %s", validation.ErrValidation, err)
		}
		return nil, fmt.Errorf("price order: %w", err)
	}

	total := quote.GrandTotal
	creditRedeemed := false
	if req.UseFreeCredit {
		if _, err := s.ledger.RedeemCredit(ctx, req.UserID); err != nil {
			return nil, err
		}
		creditRedeemed = true
		// Кредит покрывает стоимость услуг, доставка оплачивается отдельно.
		total = quote.DeliveryCharge
	}

	var reservation slot.Reservation
	if req.DeliveryMethod == model.DeliveryMethodPickup {
		reservation, err = s.allocator.Reserve(req.PickupDate, req.PickupTime)
		if err != nil {
			if creditRedeemed {
				s.compensateCredit(ctx, req.UserID)
			}
			return nil, mapReserveError(err)
		}
	}

	now := s.now()
	order := &model.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		PaymentIntentID: req.PaymentIntentID,
		TotalAmount:     total,
		Currency:        s.calc.Currency(),
		Status:          initialStatus(req.DeliveryMethod),
		DeliveryMethod:  req.DeliveryMethod,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Items:           req.Items,
		FreeCreditUsed:  creditRedeemed,
		OrderedAt:       now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.DeliveryMethod == model.DeliveryMethodPickup {
		order.DeliveryInfo = &model.DeliveryInfo{
			PickupDate: reservation.Date,
			PickupTime: reservation.Window,
			PickupCost: quote.DeliveryCharge,
		}
		order.ReservationToken = reservation.Token
	} else {
		order.BillingAddress = req.BillingAddress
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		if reservation.Token != "" {
			s.compensateReservation(order.ID, reservation.Token)
		}
		if creditRedeemed {
			s.compensateCredit(ctx, req.UserID)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

// AdvanceStatus переводит заказ в следующий статус по действию персонала.
// Допустимы только переходы pending|pickup -> processing -> completed;
// переход в completed ровно один раз учитывает заказ в программе лояльности.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, target model.OrderStatus) (*model.Order, error) {
	var from []model.OrderStatus
	switch target {
	case model.OrderStatusProcessing:
		from = []model.OrderStatus{model.OrderStatusPending, model.OrderStatusPickup}
	case model.OrderStatusCompleted:
		from = []model.OrderStatus{model.OrderStatusProcessing}
	default:
		return nil, fmt.Errorf("%w: target status %q", ErrInvalidTransition, target)
	}

	order, current, err := s.repo.TransitionOrder(ctx, orderID, from, target, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, mapStatusConflict(current, target)
		}
		return nil, fmt.Errorf("transition order: %w", err)
	}

	if target == model.OrderStatusCompleted {
		// Переход processing -> completed уже зафиксирован, повторный вызов
		// невозможен: статус монотонен. Поэтому учёт лояльности выполняется
		// ровно один раз на заказ.
		result, err := s.ledger.RecordCompletion(ctx, order.UserID)
		if err != nil {
			s.logger.Error("loyalty completion not recorded",
				zap.String("orderID", order.ID),
				zap.String("userID", order.UserID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: record completion for order %s: %s", ErrInvariantViolation, order.ID, err)
		}
		if result.FreeOrderGranted {
			s.logger.Info("free order credit granted",
				zap.String("userID", order.UserID),
				zap.Int64("lifetimeOrders", result.Progress.LifetimeOrders),
			)
		}
	}

	return order, nil
}

// CancelOrder отменяет заказ пользователя из любого нетерминального статуса.
// Бронь самовывоза, удерживаемая заказом, освобождается; невозможность
// освобождения считается нарушением инварианта, а не мягкой ошибкой.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) error {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		// Чужой заказ не раскрываем.
		return repository.ErrOrderNotFound
	}

	from := []model.OrderStatus{model.OrderStatusPending, model.OrderStatusPickup, model.OrderStatusProcessing}
	cancelled, current, err := s.repo.TransitionOrder(ctx, orderID, from, model.OrderStatusCancelled, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return mapStatusConflict(current, model.OrderStatusCancelled)
		}
		return fmt.Errorf("transition order: %w", err)
	}

	if cancelled.ReservationToken != "" {
		if err := s.allocator.Release(cancelled.ReservationToken); err != nil {
			s.logger.Error("pickup reservation leaked on cancel",
				zap.String("orderID", cancelled.ID),
				zap.String("token", cancelled.ReservationToken),
				zap.Error(err),
			)
			return fmt.Errorf("%w: release reservation for order %s: %s", ErrInvariantViolation, cancelled.ID, err)
		}
	}

	return nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetLoyaltyStatus возвращает прогресс пользователя в программе лояльности.
func (s *Service) GetLoyaltyStatus(ctx context.Context, userID string) (model.LoyaltyProgress, error) {
	return s.ledger.GetProgress(ctx, userID)
}

// StartSlotPruning запускает фоновую очистку прошедших дат из рабочего
// набора аллокатора. Останавливается по отмене контекста.
func (s *Service) StartSlotPruning(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if dropped := s.allocator.Prune(); dropped > 0 {
					s.logger.Info("pruned elapsed pickup slots", zap.Int("dropped", dropped))
				}
			}
		}
	}()
}

func (s *Service) validateCreateRequest(req CreateOrderRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", validation.ErrValidation)
	}
	if err := validation.ValidateItems(req.Items); err != nil {
		return err
	}
	if err := validation.ValidateDeliveryMethod(req.DeliveryMethod); err != nil {
		return err
	}
	switch req.DeliveryMethod {
	case model.DeliveryMethodPickup:
		if req.PickupTime == "" {
			return fmt.Errorf("%w: pickup time window is required", validation.ErrValidation)
		}
		if err := validation.ValidatePickupDate(req.PickupDate); err != nil {
			return err
		}
	case model.DeliveryMethodPost:
		if err := validation.ValidateBillingAddress(req.BillingAddress); err != nil {
			return err
		}
	}
	return nil
}

// compensateReservation освобождает бронь после неудачного сохранения заказа.
// Невозможность освобождения — фатальная утечка вместимости, она логируется
// и не скрывается за исходной ошибкой.
func (s *Service) compensateReservation(orderID, token string) {
	if err := s.allocator.Release(token); err != nil {
		s.logger.Error("pickup reservation leaked on rollback",
			zap.String("orderID", orderID),
			zap.String("token", token),
			zap.Error(err),
		)
	}
}

// compensateCredit возвращает списанный кредит после неудачного создания заказа.
func (s *Service) compensateCredit(ctx context.Context, userID string) {
	if err := s.ledger.ReturnCredit(ctx, userID); err != nil {
		s.logger.Error("free order credit leaked on rollback",
			zap.String("userID", userID),
			zap.Error(err),
		)
	}
}

// initialStatus возвращает начальный статус заказа по способу доставки.
func initialStatus(method model.DeliveryMethod) model.OrderStatus {
	if method == model.DeliveryMethodPickup {
		return model.OrderStatusPickup
	}
	return model.OrderStatusPending
}

// mapReserveError переводит ошибки аллокатора в ошибки уровня сервиса.
func mapReserveError(err error) error {
	switch {
	case errors.Is(err, slot.ErrFull):
		return fmt.Errorf("%w: %s", ErrSlotUnavailable, err)
	case errors.Is(err, slot.ErrInvalidWindow),
		errors.Is(err, slot.ErrPastDate),
		errors.Is(err, slot.ErrBeyondHorizon),
		errors.Is(err, slot.ErrInvalidDate):
		return fmt.Errorf("%w: %s", validation.ErrValidation, err)
	default:
		return fmt.Errorf("reserve pickup slot: %w", err)
	}
}

// mapStatusConflict переводит конфликт статусов в ошибку уровня сервиса.
func mapStatusConflict(current, target model.OrderStatus) error {
	if target == model.OrderStatusCompleted && current == model.OrderStatusCompleted {
		return ErrAlreadyCompleted
	}
	if current.IsTerminal() {
		return fmt.Errorf("%w: order is %s", ErrTerminalState, current)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}
