// Package loyalty реализует учёт программы лояльности: каждый пятый
// завершённый заказ даёт пользователю право на бесплатный заказ.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/houseoftailors/atelier/internal/model"
)

// cycleLength задаёт длину цикла лояльности в завершённых заказах.
const cycleLength = 5

// ErrProgressNotFound возвращается хранилищем, если записи прогресса ещё нет.
var (
	ErrProgressNotFound = errors.New("loyalty progress not found")
	// ErrNoCredit возвращается при попытке списать кредит, которого нет.
	ErrNoCredit = errors.New("no free order credit available")
)

// ProgressStore описывает контракт хранилища прогресса лояльности.
type ProgressStore interface {
	GetProgress(ctx context.Context, userID string) (*model.LoyaltyProgress, error)
	SaveProgress(ctx context.Context, progress *model.LoyaltyProgress) error
}

// CompletionResult содержит итог учёта одного завершённого заказа.
type CompletionResult struct {
	Progress         model.LoyaltyProgress
	FreeOrderGranted bool
}

// Credit описывает списанный кредит бесплатного заказа.
// Кредит одноразовый: списание атомарно уменьшает счётчик доступных кредитов.
type Credit struct {
	UserID     string
	RedeemedAt time.Time
}

// Ledger ведёт прогресс лояльности пользователей.
// Записи разных пользователей не конкурируют между собой: каждая изменяется
// под собственным мьютексом, поэтому два завершения одного пользователя
// не могут пройти одновременно.
type Ledger struct {
	store ProgressStore
	now   func() time.Time

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// Option настраивает реестр при создании.
type Option func(*Ledger)

// WithClock подменяет источник текущего времени. Используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger создаёт реестр лояльности поверх указанного хранилища.
func NewLedger(store ProgressStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		users: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordCompletion учитывает один завершённый заказ пользователя.
// Вызывающий код обязан гарантировать ровно один вызов на заказ:
// дедупликацией служит монотонный статус самого заказа.
// На каждом пятом завершении выдаётся кредит бесплатного заказа,
// и счётчик цикла сбрасывается в ноль.
func (l *Ledger) RecordCompletion(ctx context.Context, userID string) (CompletionResult, error) {
	unlock := l.lockUser(userID)
	defer unlock()

	progress, err := l.loadOrInit(ctx, userID)
	if err != nil {
		return CompletionResult{}, err
	}

	now := l.now()

	progress.LifetimeOrders++
	progress.CompletedOrders++

	granted := false
	if progress.CompletedOrders >= cycleLength {
		granted = true
		progress.CompletedOrders = 0
		progress.TotalFreeOrdersClaimed++
		progress.FreeCredits++
		progress.LastFreeOrderDate = &now
	}
	progress.UpdatedAt = now

	if err := l.store.SaveProgress(ctx, progress); err != nil {
		return CompletionResult{}, fmt.Errorf("save progress: %w", err)
	}

	return CompletionResult{Progress: *progress, FreeOrderGranted: granted}, nil
}

// RedeemCredit атомарно списывает один кредит бесплатного заказа.
// Возвращает ErrNoCredit, если доступных кредитов нет; один кредит
// никогда не достаётся двум заказам.
func (l *Ledger) RedeemCredit(ctx context.Context, userID string) (Credit, error) {
	unlock := l.lockUser(userID)
	defer unlock()

	progress, err := l.store.GetProgress(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			return Credit{}, ErrNoCredit
		}
		return Credit{}, fmt.Errorf("get progress: %w", err)
	}

	if progress.FreeCredits <= 0 {
		return Credit{}, ErrNoCredit
	}

	now := l.now()
	progress.FreeCredits--
	progress.UpdatedAt = now

	if err := l.store.SaveProgress(ctx, progress); err != nil {
		return Credit{}, fmt.Errorf("save progress: %w", err)
	}

	return Credit{UserID: userID, RedeemedAt: now}, nil
}

// ReturnCredit возвращает ранее списанный кредит. Компенсирующий вызов
// для случаев, когда заказ с кредитом не был создан.
func (l *Ledger) ReturnCredit(ctx context.Context, userID string) error {
	unlock := l.lockUser(userID)
	defer unlock()

	progress, err := l.loadOrInit(ctx, userID)
	if err != nil {
		return err
	}

	progress.FreeCredits++
	progress.UpdatedAt = l.now()

	if err := l.store.SaveProgress(ctx, progress); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}

	return nil
}

// GetProgress возвращает прогресс пользователя. Для пользователя без
// завершённых заказов возвращается нулевой прогресс.
func (l *Ledger) GetProgress(ctx context.Context, userID string) (model.LoyaltyProgress, error) {
	progress, err := l.store.GetProgress(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProgressNotFound) {
			return model.LoyaltyProgress{UserID: userID}, nil
		}
		return model.LoyaltyProgress{}, fmt.Errorf("get progress: %w", err)
	}
	return *progress, nil
}

// loadOrInit загружает прогресс пользователя, создавая пустую запись при первом обращении.
func (l *Ledger) loadOrInit(ctx context.Context, userID string) (*model.LoyaltyProgress, error) {
	progress, err := l.store.GetProgress(ctx, userID)
	if err == nil {
		return progress, nil
	}
	if !errors.Is(err, ErrProgressNotFound) {
		return nil, fmt.Errorf("get progress: %w", err)
	}

	now := l.now()
	return &model.LoyaltyProgress{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// lockUser блокирует запись пользователя и возвращает функцию разблокировки.
func (l *Ledger) lockUser(userID string) func() {
	l.mu.Lock()
	m, ok := l.users[userID]
	if !ok {
		m = &sync.Mutex{}
		l.users[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
