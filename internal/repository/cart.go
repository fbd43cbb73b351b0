package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/shopspring/decimal"
)

// GetCartSnapshot reads the buyer's cart lines joined with current product
// state in a single statement, ordered by cart item id.
func (r *Repository) GetCartSnapshot(ctx context.Context, buyerID int64) (*domain.CartSnapshot, error) {
	query := `SELECT c.id, c.product_id, c.quantity, c.created_at,
	                 p.id, p.name, p.price, p.stock, p.active, p.updated_at
	          FROM cart_items c
	          LEFT JOIN products p ON p.id = c.product_id
	          WHERE c.buyer_id = ?
	          ORDER BY c.id`

	rows, err := r.db.QueryContext(ctx, r.q(query), buyerID)
	if err != nil {
		return nil, fmt.Errorf("query cart snapshot: %w", err)
	}
	defer rows.Close()

	snapshot := &domain.CartSnapshot{BuyerID: buyerID, CapturedAt: time.Now().UTC()}
	for rows.Next() {
		var (
			line      domain.CartLine
			productID sql.NullInt64
			name      sql.NullString
			price     decimal.NullDecimal
			stock     sql.NullInt64
			active    sql.NullBool
			updatedAt sql.NullTime
		)
		if err := rows.Scan(
			&line.ID,
			&line.ProductID,
			&line.Quantity,
			&line.CreatedAt,
			&productID,
			&name,
			&price,
			&stock,
			&active,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart row: %w", err)
		}
		if productID.Valid {
			line.Product = &domain.Product{
				ID:        productID.Int64,
				Name:      name.String,
				Price:     price,
				Stock:     int(stock.Int64),
				Active:    active.Bool,
				UpdatedAt: updatedAt.Time,
			}
		}
		snapshot.Lines = append(snapshot.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return snapshot, nil
}

// AddCartItem adds quantity to the buyer's line for the product, creating it
// if needed. Only active products can be added.
func (r *Repository) AddCartItem(ctx context.Context, buyerID, productID int64, quantity int) (*domain.CartItem, error) {
	if quantity < 1 {
		return nil, domain.ErrInvalidQuantity
	}

	var item domain.CartItem
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getProduct(ctx, tx, r.q(`SELECT id, name, price, stock, active, updated_at FROM products WHERE id = ?`), productID)
		if err != nil {
			return err
		}
		if !p.Active {
			return domain.ErrProductNotFound
		}

		query := `INSERT INTO cart_items (buyer_id, product_id, quantity, created_at) VALUES (?, ?, ?, ?)
		          ON CONFLICT (buyer_id, product_id) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity
		          RETURNING id, product_id, quantity, created_at`
		return tx.QueryRowContext(ctx, r.q(query), buyerID, productID, quantity, time.Now().UTC()).
			Scan(&item.ID, &item.ProductID, &item.Quantity, &item.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}
	return &item, nil
}

func (r *Repository) UpdateCartItem(ctx context.Context, buyerID, productID int64, quantity int) error {
	if quantity < 1 {
		return domain.ErrInvalidQuantity
	}
	res, err := r.db.ExecContext(ctx,
		r.q(`UPDATE cart_items SET quantity = ? WHERE buyer_id = ? AND product_id = ?`),
		quantity, buyerID, productID)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	return expectOneRow(res, domain.ErrCartItemNotFound)
}

func (r *Repository) RemoveCartItem(ctx context.Context, buyerID, productID int64) error {
	res, err := r.db.ExecContext(ctx,
		r.q(`DELETE FROM cart_items WHERE buyer_id = ? AND product_id = ?`), buyerID, productID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}
	return expectOneRow(res, domain.ErrCartItemNotFound)
}

func (r *Repository) ClearCart(ctx context.Context, buyerID int64) error {
	if _, err := r.db.ExecContext(ctx, r.q(`DELETE FROM cart_items WHERE buyer_id = ?`), buyerID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
