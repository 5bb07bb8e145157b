// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/keyshop-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderExists возвращается при попытке создать заказ с уже занятым номером.
var (
	ErrOrderExists = errors.New("order already exists")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientStock возвращается, когда непроданных ключей меньше запрошенного количества.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCouponNotFound возвращается, если активный промокод не найден.
	ErrCouponNotFound = errors.New("coupon not found")
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

// withRetry повторяет операцию при временных ошибках: serialization failure,
// deadlock и обрывы соединения. Бизнес-ошибки не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateOrder сохраняет новый заказ в статусе pending.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order model.Order) error {
	quantity := order.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (reference, product_code, amount, quantity, customer_email, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		order.Reference, order.ProductCode, order.AmountDue, quantity,
		order.CustomerEmail, string(model.OrderStatusPending),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrOrderExists, order.Reference)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetOrderByReference возвращает заказ по его номеру независимо от статуса.
func (r *PostgresRepository) GetOrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT reference, product_code, amount, quantity, customer_email, status, created_at, completed_at
		 FROM orders WHERE reference = $1`,
		reference,
	)

	var o model.Order
	var status string
	err := row.Scan(&o.Reference, &o.ProductCode, &o.AmountDue, &o.Quantity,
		&o.CustomerEmail, &status, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetPendingOrders возвращает все заказы, ожидающие оплаты.
// Завершённые заказы в сопоставлении не участвуют.
func (r *PostgresRepository) GetPendingOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT reference, product_code, amount, quantity, customer_email, status, created_at, completed_at
		 FROM orders
		 WHERE status = $1
		 ORDER BY created_at`,
		string(model.OrderStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var status string
		if err := rows.Scan(&o.Reference, &o.ProductCode, &o.AmountDue, &o.Quantity,
			&o.CustomerEmail, &status, &o.CreatedAt, &o.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// CompleteOrder атомарно переводит заказ из pending в completed.
// Возвращает false, если переход уже выполнен другой доставкой вебхука:
// условие status = pending закрывает гонку между параллельными доставками.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, reference string) (bool, error) {
	var completed bool

	err := r.withRetry(ctx, func(ctx context.Context) error {
		cmdTag, err := r.pool.Exec(ctx,
			`UPDATE orders SET status = $2, completed_at = now()
			 WHERE reference = $1 AND status = $3`,
			reference, string(model.OrderStatusCompleted), string(model.OrderStatusPending),
		)
		if err != nil {
			return fmt.Errorf("complete order: %w", err)
		}
		completed = cmdTag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	return completed, nil
}

// ReserveStock атомарно резервирует count непроданных ключей продукта
// и помечает их проданными в пользу заказа. FOR UPDATE SKIP LOCKED
// гарантирует, что параллельные резервирования не пересекаются.
// Если ключей не хватает, транзакция откатывается целиком.
func (r *PostgresRepository) ReserveStock(ctx context.Context, productCode, orderReference string, count int) ([]model.StockItem, error) {
	if count <= 0 {
		count = 1
	}

	var items []model.StockItem

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`UPDATE stock_items SET sold = TRUE, order_reference = $2, sold_at = now()
			 WHERE id IN (
			     SELECT id FROM stock_items
			     WHERE product_code = $1 AND sold = FALSE
			     ORDER BY id
			     FOR UPDATE SKIP LOCKED
			     LIMIT $3
			 )
			 RETURNING id, serial`,
			productCode, orderReference, count,
		)
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}

		reserved := make([]model.StockItem, 0, count)
		for rows.Next() {
			item := model.StockItem{
				ProductCode:    productCode,
				Sold:           true,
				OrderReference: orderReference,
			}
			if err := rows.Scan(&item.ID, &item.Serial); err != nil {
				rows.Close()
				return fmt.Errorf("scan stock item: %w", err)
			}
			reserved = append(reserved, item)
		}
		rows.Close()

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(reserved) < count {
			// Откат через defer: частичное резервирование не фиксируется.
			return fmt.Errorf("%w: product %s, need %d, got %d",
				ErrInsufficientStock, productCode, count, len(reserved))
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		items = reserved
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// AppendAudit добавляет запись в журнал аудита.
func (r *PostgresRepository) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	reference := rec.OrderReference
	if reference == "" {
		reference = model.UnknownOrderReference
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (context, order_reference, detail) VALUES ($1, $2, $3)`,
		string(rec.Context), reference, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	return nil
}

// GetCouponByCode возвращает активный промокод.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT code, discount_percent, is_active
		 FROM coupons WHERE code = $1 AND is_active = TRUE`,
		code,
	)

	var c model.Coupon
	err := row.Scan(&c.Code, &c.DiscountPercent, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	return &c, nil
}
