package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paygate/internal/domain/order"
	"paygate/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, order_code, payer, total_amount::text, status,
	merchant_trans_id, provider_trans_id, paid_at, created_at, updated_at`

// orderRepository implements the order repositories over any querier.
type orderRepository struct {
	q querier
}

// NewOrderRepository creates an autocommit order repository.
func NewOrderRepository(db *pgxpool.Pool) repositories.OrderRepository {
	return &orderRepository{q: db}
}

// FindByID finds an order with its line items.
func (r *orderRepository) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// FindByMerchantTransID finds the order a payment session was opened for.
func (r *orderRepository) FindByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE merchant_trans_id = $1`, merchantTransID)
}

// LockByID is FindByID holding the row lock until the transaction ends.
func (r *orderRepository) LockByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepository) LockByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error) {
	return r.findOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE merchant_trans_id = $1 FOR UPDATE`, merchantTransID)
}

// Save updates the columns owned by the payment core.
func (r *orderRepository) Save(ctx context.Context, o *order.Order) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE orders
		SET status = $1,
		    merchant_trans_id = NULLIF($2, ''),
		    provider_trans_id = NULLIF($3, ''),
		    paid_at = $4,
		    updated_at = $5
		WHERE id = $6`,
		string(o.Status), o.MerchantTransID, o.ProviderTransID, o.PaidAt, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *orderRepository) findOne(ctx context.Context, query string, arg any) (*order.Order, error) {
	o, err := scanOrder(r.q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *orderRepository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.q.Query(ctx, `
		SELECT product_id, product_name, unit_price::text, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("load items for order %d: %w", o.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    order.LineItem
			price string
		)
		if err := rows.Scan(&it.ProductID, &it.Name, &price, &it.Quantity); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order %d item price %q: %w", o.ID, price, err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

// scanOrder scans a single row into an order domain object
func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o               order.Order
		total, status   string
		merchantTransID sql.NullString
		providerTransID sql.NullString
	)
	err := row.Scan(&o.ID, &o.Code, &o.Payer, &total, &status,
		&merchantTransID, &providerTransID, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("order %d total %q: %w", o.ID, total, err)
	}
	o.Status = order.Status(status)
	if merchantTransID.Valid {
		o.MerchantTransID = merchantTransID.String
	}
	if providerTransID.Valid {
		o.ProviderTransID = providerTransID.String
	}
	return &o, nil
}
