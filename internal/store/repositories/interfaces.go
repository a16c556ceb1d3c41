package repositories

import (
	"context"
	"errors"
	"time"

	"paygate/internal/domain/order"
	"paygate/internal/domain/refund"
)

// ErrNotFound is returned by finders when no row matches.
var ErrNotFound = errors.New("record not found")

// OrderRepository defines the contract for order data access
type OrderRepository interface {
	FindByID(ctx context.Context, id int64) (*order.Order, error)
	FindByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error)
	// Save writes the fields the payment core owns: status, transaction ids and paid time.
	Save(ctx context.Context, o *order.Order) error
}

// LockingOrderRepository adds row-locking reads; only available inside a Transaction.
type LockingOrderRepository interface {
	OrderRepository
	LockByID(ctx context.Context, id int64) (*order.Order, error)
	LockByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error)
}

// RefundRepository defines the contract for refund data access
type RefundRepository interface {
	// Save inserts when ID is zero and updates otherwise.
	Save(ctx context.Context, t *refund.Transaction) error
	FindByRefundID(ctx context.Context, refundID string) (*refund.Transaction, error)
	// FindByOrderID returns the order's refunds, newest first.
	FindByOrderID(ctx context.Context, orderID int64) ([]*refund.Transaction, error)
	// FindPendingReconciliation returns PROCESSING refunds and PENDING refunds
	// created before staleBefore, oldest first.
	FindPendingReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]*refund.Transaction, error)
}

// UnitOfWork defines transactional operations
type UnitOfWork interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction defines a database transaction. Callers lock the order row
// before reading or writing any of its refunds.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	OrderRepository() LockingOrderRepository
	RefundRepository() RefundRepository
}

// Store is everything the payment core needs from persistence.
type Store interface {
	UnitOfWork
	Orders() OrderRepository
	Refunds() RefundRepository
}
