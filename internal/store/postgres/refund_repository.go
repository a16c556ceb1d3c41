package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"paygate/internal/domain/refund"
	"paygate/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, order_id, refund_id, refund_amount::text, description, status,
	provider_return_code, provider_return_message, created_at, updated_at, processed_at`

// refundRepository implements RefundRepository with pure data access
type refundRepository struct {
	q querier
}

// NewRefundRepository creates an autocommit refund repository.
func NewRefundRepository(db *pgxpool.Pool) repositories.RefundRepository {
	return &refundRepository{q: db}
}

// Save saves a refund (insert or update)
func (r *refundRepository) Save(ctx context.Context, t *refund.Transaction) error {
	if t.ID == 0 {
		return r.insert(ctx, t)
	}
	return r.update(ctx, t)
}

func (r *refundRepository) FindByRefundID(ctx context.Context, refundID string) (*refund.Transaction, error) {
	t, err := scanRefund(r.q.QueryRow(ctx, `SELECT `+refundColumns+` FROM refund_transactions WHERE refund_id = $1`, refundID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	return t, err
}

func (r *refundRepository) FindByOrderID(ctx context.Context, orderID int64) ([]*refund.Transaction, error) {
	return r.list(ctx, `
		SELECT `+refundColumns+`
		FROM refund_transactions
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC`, orderID)
}

func (r *refundRepository) FindPendingReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]*refund.Transaction, error) {
	return r.list(ctx, `
		SELECT `+refundColumns+`
		FROM refund_transactions
		WHERE status = 'PROCESSING'
		   OR (status = 'PENDING' AND created_at < $1)
		ORDER BY created_at, id
		LIMIT $2`, staleBefore, limit)
}

// insert creates a new refund record
func (r *refundRepository) insert(ctx context.Context, t *refund.Transaction) error {
	err := r.q.QueryRow(ctx, `
		INSERT INTO refund_transactions
			(order_id, refund_id, refund_amount, description, status,
			 provider_return_code, provider_return_message, created_at, updated_at, processed_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		t.OrderID, t.RefundID, t.Amount.String(), t.Description, string(t.Status),
		t.ReturnCode, nullString(t.ReturnMessage), t.CreatedAt, t.UpdatedAt, t.ProcessedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("insert refund %s: %w", t.RefundID, err)
	}
	return nil
}

// update modifies the mutable part of a refund record
func (r *refundRepository) update(ctx context.Context, t *refund.Transaction) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE refund_transactions
		SET status = $1, provider_return_code = $2, provider_return_message = $3,
		    updated_at = $4, processed_at = $5
		WHERE id = $6`,
		string(t.Status), t.ReturnCode, nullString(t.ReturnMessage), t.UpdatedAt, t.ProcessedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update refund %s: %w", t.RefundID, err)
	}
	if tag.RowsAffected() == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *refundRepository) list(ctx context.Context, query string, args ...any) ([]*refund.Transaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*refund.Transaction
	for rows.Next() {
		t, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// scanRefund works for both pgx.Row and pgx.Rows.
func scanRefund(row pgx.Row) (*refund.Transaction, error) {
	var (
		t             refund.Transaction
		amount        string
		status        string
		returnCode    sql.NullInt32
		returnMessage sql.NullString
	)
	err := row.Scan(&t.ID, &t.OrderID, &t.RefundID, &amount, &t.Description, &status,
		&returnCode, &returnMessage, &t.CreatedAt, &t.UpdatedAt, &t.ProcessedAt)
	if err != nil {
		return nil, err
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("refund %s amount %q: %w", t.RefundID, amount, err)
	}
	t.Status = refund.Status(status)
	if returnCode.Valid {
		code := int(returnCode.Int32)
		t.ReturnCode = &code
	}
	if returnMessage.Valid {
		t.ReturnMessage = returnMessage.String
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
