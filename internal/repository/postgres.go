// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/houseoftailors/atelier/internal/loyalty"
	"github.com/houseoftailors/atelier/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderNotFound возвращается, если заказ не найден.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict возвращается, если текущий статус заказа не допускает перехода.
	ErrStatusConflict = errors.New("order status conflict")
	// ErrDuplicateOrder возвращается при повторном заказе с тем же платёжным интентом.
	ErrDuplicateOrder = errors.New("order with this payment intent already exists")
	// ErrConfigIncomplete возвращается, если в shop_config нет обязательного документа.
	ErrConfigIncomplete = errors.New("shop configuration incomplete")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// LoadShopConfig загружает справочную конфигурацию магазина.
// Конфигурация сеется миграциями и считается неизменяемой на время работы процесса.
func (r *PostgresRepository) LoadShopConfig(ctx context.Context) (*model.ShopConfig, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT config_key, config_value FROM shop_config WHERE is_active`,
	)
	if err != nil {
		return nil, fmt.Errorf("select shop config: %w", err)
	}
	defer rows.Close()

	cfg := &model.ShopConfig{}
	seen := map[string]bool{}

	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan shop config: %w", err)
		}

		switch key {
		case "shop_info":
			if err := json.Unmarshal(value, &cfg.Info); err != nil {
				return nil, fmt.Errorf("decode shop_info: %w", err)
			}
		case "delivery_options":
			if err := json.Unmarshal(value, &cfg.DeliveryOptions); err != nil {
				return nil, fmt.Errorf("decode delivery_options: %w", err)
			}
		case "pickup_slots":
			if err := json.Unmarshal(value, &cfg.PickupSchedule); err != nil {
				return nil, fmt.Errorf("decode pickup_slots: %w", err)
			}
		default:
			continue
		}
		seen[key] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, key := range []string{"delivery_options", "pickup_slots"} {
		if !seen[key] {
			return nil, fmt.Errorf("%w: missing %s", ErrConfigIncomplete, key)
		}
	}

	return cfg, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}

	var deliveryInfo, billingAddress []byte
	if order.DeliveryInfo != nil {
		if deliveryInfo, err = json.Marshal(order.DeliveryInfo); err != nil {
			return fmt.Errorf("encode delivery info: %w", err)
		}
	}
	if order.BillingAddress != nil {
		if billingAddress, err = json.Marshal(order.BillingAddress); err != nil {
			return fmt.Errorf("encode billing address: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO orders
		   (id, user_id, payment_intent_id, total_amount, currency, status,
		    delivery_method, delivery_info, billing_address,
		    customer_name, customer_email, customer_phone,
		    order_items, reservation_token, free_credit_used,
		    ordered_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		order.ID, order.UserID, order.PaymentIntentID, order.TotalAmount, order.Currency, string(order.Status),
		string(order.DeliveryMethod), deliveryInfo, billingAddress,
		order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		items, order.ReservationToken, order.FreeCreditUsed,
		order.OrderedAt, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, order.PaymentIntentID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

const orderColumns = `id, user_id, payment_intent_id, total_amount, currency, status,
	delivery_method, delivery_info, billing_address,
	customer_name, customer_email, customer_phone,
	order_items, reservation_token, free_credit_used,
	ordered_at, created_at, updated_at`

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		orderID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return order, nil
}

// GetOrdersByUser возвращает список заказов пользователя, новые сверху.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY ordered_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// TransitionOrder атомарно переводит заказ из одного из статусов from в статус to.
// Строка заказа блокируется на время проверки, поэтому два конкурентных
// перехода одного заказа сериализуются и второй получает ErrStatusConflict.
func (r *PostgresRepository) TransitionOrder(ctx context.Context, orderID string, from []model.OrderStatus, to model.OrderStatus, now time.Time) (*model.Order, model.OrderStatus, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrOrderNotFound
		}
		return nil, "", fmt.Errorf("lock order: %w", err)
	}

	allowed := false
	for _, st := range from {
		if order.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, order.Status, fmt.Errorf("%w: %s", ErrStatusConflict, order.Status)
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(to), now,
	)
	if err != nil {
		return nil, order.Status, fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, order.Status, fmt.Errorf("commit tx: %w", err)
	}

	order.Status = to
	order.UpdatedAt = now

	return order, to, nil
}

// scanOrder читает строку заказа, разбирая JSONB-поля.
func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o              model.Order
		status         string
		method         string
		deliveryInfo   []byte
		billingAddress []byte
		items          []byte
	)

	err := row.Scan(
		&o.ID, &o.UserID, &o.PaymentIntentID, &o.TotalAmount, &o.Currency, &status,
		&method, &deliveryInfo, &billingAddress,
		&o.CustomerName, &o.CustomerEmail, &o.CustomerPhone,
		&items, &o.ReservationToken, &o.FreeCreditUsed,
		&o.OrderedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.DeliveryMethod = model.DeliveryMethod(method)

	if len(deliveryInfo) > 0 {
		o.DeliveryInfo = &model.DeliveryInfo{}
		if err := json.Unmarshal(deliveryInfo, o.DeliveryInfo); err != nil {
			return nil, fmt.Errorf("decode delivery info: %w", err)
		}
	}
	if len(billingAddress) > 0 {
		o.BillingAddress = &model.BillingAddress{}
		if err := json.Unmarshal(billingAddress, o.BillingAddress); err != nil {
			return nil, fmt.Errorf("decode billing address: %w", err)
		}
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}

	return &o, nil
}

// GetProgress возвращает прогресс лояльности пользователя.
// Реализует loyalty.ProgressStore.
func (r *PostgresRepository) GetProgress(ctx context.Context, userID string) (*model.LoyaltyProgress, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, completed_orders, lifetime_orders, total_free_orders_claimed,
		        free_credits, last_free_order_date, created_at, updated_at
		 FROM loyalty_progress WHERE user_id = $1`,
		userID,
	)

	var p model.LoyaltyProgress
	err := row.Scan(
		&p.UserID, &p.CompletedOrders, &p.LifetimeOrders, &p.TotalFreeOrdersClaimed,
		&p.FreeCredits, &p.LastFreeOrderDate, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrProgressNotFound
		}
		return nil, fmt.Errorf("get loyalty progress: %w", err)
	}

	return &p, nil
}

// SaveProgress сохраняет прогресс лояльности пользователя.
// Реализует loyalty.ProgressStore.
func (r *PostgresRepository) SaveProgress(ctx context.Context, progress *model.LoyaltyProgress) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO loyalty_progress
		   (user_id, completed_orders, lifetime_orders, total_free_orders_claimed,
		    free_credits, last_free_order_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id) DO UPDATE SET
		   completed_orders = EXCLUDED.completed_orders,
		   lifetime_orders = EXCLUDED.lifetime_orders,
		   total_free_orders_claimed = EXCLUDED.total_free_orders_claimed,
		   free_credits = EXCLUDED.free_credits,
		   last_free_order_date = EXCLUDED.last_free_order_date,
		   updated_at = EXCLUDED.updated_at`,
		progress.UserID, progress.CompletedOrders, progress.LifetimeOrders, progress.TotalFreeOrdersClaimed,
		progress.FreeCredits, progress.LastFreeOrderDate, progress.CreatedAt, progress.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert loyalty progress: %w", err)
	}

	return nil
}
