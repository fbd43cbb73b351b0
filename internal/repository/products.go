package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/store-service/internal/domain"
)

// UpsertProduct writes catalog state. Active is derived from stock: a product
// with no stock is never active.
func (r *Repository) UpsertProduct(ctx context.Context, p *domain.Product) error {
	now := time.Now().UTC()
	active := p.Active && p.Stock > 0

	if p.ID == 0 {
		query := `INSERT INTO products (name, price, stock, active, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id`
		if err := r.db.QueryRowContext(ctx, r.q(query), p.Name, p.Price, p.Stock, active, now).Scan(&p.ID); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
	} else {
		query := `INSERT INTO products (id, name, price, stock, active, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		          ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price,
		          stock = excluded.stock, active = excluded.active, updated_at = excluded.updated_at`
		if _, err := r.db.ExecContext(ctx, r.q(query), p.ID, p.Name, p.Price, p.Stock, active, now); err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}
		if r.driver == DriverPostgres {
			// explicit ids bypass the serial sequence
			_, err := r.db.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('products', 'id'), (SELECT MAX(id) FROM products))`)
			if err != nil {
				return fmt.Errorf("sync product id sequence: %w", err)
			}
		}
	}
	p.Active = active
	p.UpdatedAt = now
	return nil
}

func (r *Repository) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return getProduct(ctx, r.db, r.q(`SELECT id, name, price, stock, active, updated_at FROM products WHERE id = ?`), id)
}

func getProduct(ctx context.Context, db queryer, query string, id int64) (*domain.Product, error) {
	var p domain.Product
	err := db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product by id: %w", err)
	}
	return &p, nil
}
