// Package slot реализует учёт вместимости окон самовывоза и выдачу броней.
package slot

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houseoftailors/atelier/internal/model"
)

// DateLayout задаёт формат даты самовывоза в запросах и хранилище.
const DateLayout = "2006-01-02"

// ErrFull возвращается, когда в окне не осталось свободных броней.
var (
	ErrFull = errors.New("pickup window is full")
	// ErrInvalidWindow возвращается, если окно не доступно в этот день недели.
	ErrInvalidWindow = errors.New("pickup window is not available on this day")
	// ErrPastDate возвращается при попытке брони на прошедшую дату.
	ErrPastDate = errors.New("pickup date is in the past")
	// ErrBeyondHorizon возвращается при попытке брони за пределами горизонта бронирования.
	ErrBeyondHorizon = errors.New("pickup date is beyond the booking horizon")
	// ErrInvalidToken возвращается при освобождении неизвестной или уже освобождённой брони.
	ErrInvalidToken = errors.New("unknown reservation token")
	// ErrInvalidDate возвращается для даты в неверном формате.
	ErrInvalidDate = errors.New("invalid pickup date")
)

// Reservation описывает выданную бронь окна самовывоза.
// Токен непрозрачен и нужен только для последующего освобождения брони.
type Reservation struct {
	Token  string
	Date   string
	Window string
}

type slotKey struct {
	date   string
	window string
}

type slotState struct {
	reserved int
	max      int
}

// Allocator выдаёт и освобождает брони окон самовывоза.
// Счётчик каждой пары (дата, окно) изменяется только под мьютексом аллокатора,
// поэтому две конкурентные брони не могут пройти мимо последнего свободного места.
type Allocator struct {
	schedule     model.PickupSchedule
	horizonWeeks int
	now          func() time.Time

	mu     sync.Mutex
	slots  map[slotKey]*slotState
	tokens map[string]slotKey
}

// Option настраивает аллокатор при создании.
type Option func(*Allocator)

// WithClock подменяет источник текущего времени. Используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) {
		a.now = now
	}
}

// NewAllocator создаёт аллокатор для указанного расписания и горизонта бронирования в неделях.
func NewAllocator(schedule model.PickupSchedule, horizonWeeks int, opts ...Option) *Allocator {
	a := &Allocator{
		schedule:     schedule,
		horizonWeeks: horizonWeeks,
		now:          time.Now,
		slots:        make(map[slotKey]*slotState),
		tokens:       make(map[string]slotKey),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Reserve атомарно занимает место в окне самовывоза и возвращает бронь.
// Возвращает ErrFull, если лимит окна исчерпан, и никогда не пропускает
// больше броней, чем задано лимитом.
func (a *Allocator) Reserve(date, window string) (Reservation, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	today := truncateToDay(a.now())
	if day.Before(today) {
		return Reservation{}, ErrPastDate
	}
	if a.horizonWeeks > 0 && day.After(today.AddDate(0, 0, a.horizonWeeks*7)) {
		return Reservation{}, ErrBeyondHorizon
	}

	max, ok := a.maxBookings(day.Weekday(), window)
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %q on %s", ErrInvalidWindow, window, day.Weekday())
	}

	key := slotKey{date: date, window: window}

	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.slots[key]
	if !ok {
		state = &slotState{max: max}
		a.slots[key] = state
	}

	if state.reserved >= state.max {
		return Reservation{}, ErrFull
	}
	state.reserved++

	token := uuid.NewString()
	a.tokens[token] = key

	return Reservation{Token: token, Date: date, Window: window}, nil
}

// Release освобождает ранее выданную бронь.
// Повторное освобождение того же токена возвращает ErrInvalidToken,
// чтобы вызывающий код мог обнаружить двойной возврат.
func (a *Allocator) Release(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key, ok := a.tokens[token]
	if !ok {
		return ErrInvalidToken
	}
	delete(a.tokens, token)

	state, ok := a.slots[key]
	if !ok || state.reserved == 0 {
		return fmt.Errorf("%w: counter for %s %s already empty", ErrInvalidToken, key.date, key.window)
	}
	state.reserved--

	return nil
}

// Usage возвращает занятость и лимит окна. Третий результат сообщает,
// есть ли по этой паре (дата, окно) живой счётчик.
func (a *Allocator) Usage(date, window string) (reserved, max int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, found := a.slots[key(date, window)]
	if !found {
		return 0, 0, false
	}
	return state.reserved, state.max, true
}

// Prune удаляет из рабочего набора счётчики и токены прошедших дат.
// Возвращает количество удалённых счётчиков.
func (a *Allocator) Prune() int {
	today := truncateToDay(a.now()).Format(DateLayout)

	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for k := range a.slots {
		if k.date < today {
			delete(a.slots, k)
			dropped++
		}
	}
	for token, k := range a.tokens {
		if k.date < today {
			delete(a.tokens, token)
		}
	}

	return dropped
}

// maxBookings возвращает лимит броней окна для дня недели.
func (a *Allocator) maxBookings(day time.Weekday, window string) (int, bool) {
	for _, w := range a.schedule.WindowsFor(day) {
		if w.Label == window {
			return w.MaxBookings, true
		}
	}
	return 0, false
}

func key(date, window string) slotKey {
	return slotKey{date: date, window: window}
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
