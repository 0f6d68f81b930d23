package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
)

var (
	errNotFound          = errors.New("product not found")
	errOrderNotFound     = errors.New("order not found")
	errInsufficientStock = errors.New("insufficient stock")
	errIdempotencyRace   = errors.New("idempotency race")
)

type placed struct {
	OrderID string
	Status  domain.OrderStatus
	Replay  bool
}

type repository interface {
	Products(ctx context.Context) ([]domain.Product, error)
	Product(ctx context.Context, id domain.ProductID) (domain.Product, error)
	CreateOrder(ctx context.Context, idemKey string, req domain.OrderRequest) (placed, error)
	Order(ctx context.Context, id int64) (domain.Order, error)
	// Orders lists newest first; an empty email lists everyone's.
	Orders(ctx context.Context, email string, limit int) ([]domain.Order, error)
}

type pgRepo struct {
	pool *pgxpool.Pool
}

var seedProducts = []domain.Product{
	{ID: 1, Name: "Desk Lamp", Price: 24.99, Stock: 25, Description: "Adjustable LED lamp"},
	{ID: 2, Name: "Standing Desk", Price: 349, Stock: 5, Description: "Electric height adjustment"},
	{ID: 3, Name: "Office Chair", Price: 189.5, Stock: 10, Description: "Mesh back, lumbar support"},
	{ID: 4, Name: "Monitor Arm", Price: 79.9, Stock: 0, Description: "Single arm, VESA 75/100"},
}

func (r pgRepo) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			stock INT NOT NULL CHECK (stock >= 0),
			description TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL,
			status TEXT NOT NULL,
			total NUMERIC(12,2) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id BIGINT NOT NULL REFERENCES orders(id),
			product_id BIGINT NOT NULL,
			quantity INT NOT NULL,
			price NUMERIC(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_idempotency (
			idempotency_key TEXT PRIMARY KEY,
			order_id BIGINT NOT NULL REFERENCES orders(id)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	for _, p := range seedProducts {
		_, err := r.pool.Exec(ctx, `INSERT INTO products(id, name, price, stock, description, image_url)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
			int64(p.ID), p.Name, p.Price, p.Stock, p.Description, p.ImageURL)
		if err != nil {
			return err
		}
	}
	return nil
}

const productColumns = `id, name, price::float8, stock, description, image_url`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var id int64
	err := row.Scan(&id, &p.Name, &p.Price, &p.Stock, &p.Description, &p.ImageURL)
	p.ID = domain.ProductID(id)
	return p, err
}

func (r pgRepo) Products(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r pgRepo) Product(ctx context.Context, id domain.ProductID) (domain.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, errNotFound
	}
	return p, err
}

// CreateOrder reserves stock and records the order in one transaction. A
// repeated idempotency key returns the order created by the first call.
func (r pgRepo) CreateOrder(ctx context.Context, idemKey string, req domain.OrderRequest) (placed, error) {
	if idemKey != "" {
		if res, ok, err := r.byKey(ctx, idemKey); err != nil || ok {
			return res, err
		}
	}

	res, err := r.createOrder(ctx, idemKey, req)
	if errors.Is(err, errIdempotencyRace) {
		if res, ok, qerr := r.byKey(ctx, idemKey); qerr == nil && ok {
			return res, nil
		}
	}
	return res, err
}

func (r pgRepo) createOrder(ctx context.Context, idemKey string, req domain.OrderRequest) (placed, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return placed{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range req.Items {
		tag, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2 WHERE id=$1 AND stock >= $2`, int64(it.ProductID), it.Quantity)
		if err != nil {
			return placed{}, err
		}
		if tag.RowsAffected() == 0 {
			return placed{}, fmt.Errorf("%w: product %d", errInsufficientStock, it.ProductID)
		}
	}

	var id int64
	status := domain.OrderStatusPending
	err = tx.QueryRow(ctx, `INSERT INTO orders(email, status, total) VALUES ($1, $2, $3) RETURNING id`,
		req.Email, string(status), req.Total).Scan(&id)
	if err != nil {
		return placed{}, err
	}
	for _, it := range req.Items {
		_, err = tx.Exec(ctx, `INSERT INTO order_items(order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)`,
			id, int64(it.ProductID), it.Quantity, it.Price)
		if err != nil {
			return placed{}, err
		}
	}
	if idemKey != "" {
		_, err = tx.Exec(ctx, `INSERT INTO order_idempotency(idempotency_key, order_id) VALUES ($1, $2)`, idemKey, id)
		if err != nil {
			if isUniqueViolation(err) {
				return placed{}, errIdempotencyRace
			}
			return placed{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return placed{}, err
	}
	return placed{OrderID: fmt.Sprint(id), Status: status}, nil
}

func (r pgRepo) byKey(ctx context.Context, key string) (placed, bool, error) {
	var id int64
	var status string
	err := r.pool.QueryRow(ctx, `SELECT o.id, o.status FROM order_idempotency k JOIN orders o ON o.id = k.order_id
		WHERE k.idempotency_key=$1`, key).Scan(&id, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return placed{}, false, nil
	}
	if err != nil {
		return placed{}, false, err
	}
	return placed{OrderID: fmt.Sprint(id), Status: domain.OrderStatus(status), Replay: true}, true, nil
}

const orderColumns = `id, email, status, total::float8, created_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var id int64
	var status string
	err := row.Scan(&id, &o.Email, &status, &o.Total, &o.CreatedAt)
	o.ID, o.Status = domain.OrderID(fmt.Sprint(id)), domain.OrderStatus(status)
	return o, err
}

func (r pgRepo) Order(ctx context.Context, id int64) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, errOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT product_id, quantity, price::float8 FROM order_items WHERE order_id=$1`, id)
	if err != nil {
		return domain.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		var pid int64
		if err := rows.Scan(&pid, &it.Quantity, &it.Price); err != nil {
			return domain.Order{}, err
		}
		it.ProductID = domain.ProductID(pid)
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r pgRepo) Orders(ctx context.Context, email string, limit int) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE $1::text = '' OR lower(email) = lower($1::text) ORDER BY id DESC LIMIT $2`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
