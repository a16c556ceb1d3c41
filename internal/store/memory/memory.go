// Package memory is an in-process store for sandbox runs and tests. A single
// transaction lock stands in for row locks, so at most one Transaction is open
// at a time.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paygate/internal/domain/order"
	"paygate/internal/domain/refund"
	"paygate/internal/store/repositories"
)

type Store struct {
	txMu sync.Mutex

	mu           sync.RWMutex
	orders       map[int64]*order.Order
	byMerchant   map[string]int64
	refunds      map[int64]*refund.Transaction
	byRefundID   map[string]int64
	nextOrderID  int64
	nextRefundID int64
}

var _ repositories.UnitOfWork = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:     make(map[int64]*order.Order),
		byMerchant: make(map[string]int64),
		refunds:    make(map[int64]*refund.Transaction),
		byRefundID: make(map[string]int64),
	}
}

// PutOrder seeds an order, assigning an ID when it has none.
func (s *Store) PutOrder(o *order.Order) *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := o.Clone()
	if c.ID == 0 {
		s.nextOrderID++
		c.ID = s.nextOrderID
	} else if c.ID > s.nextOrderID {
		s.nextOrderID = c.ID
	}
	s.putOrderLocked(c)
	return c.Clone()
}

func (s *Store) Orders() repositories.OrderRepository   { return &orderRepo{s: s} }
func (s *Store) Refunds() repositories.RefundRepository { return &refundRepo{s: s} }

// Begin blocks until no other transaction is open.
func (s *Store) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &transaction{
		s:       s,
		orders:  make(map[int64]*order.Order),
		refunds: make(map[int64]*refund.Transaction),
	}, nil
}

func (s *Store) putOrderLocked(o *order.Order) {
	if prev, ok := s.orders[o.ID]; ok && prev.MerchantTransID != "" {
		delete(s.byMerchant, prev.MerchantTransID)
	}
	s.orders[o.ID] = o
	if o.MerchantTransID != "" {
		s.byMerchant[o.MerchantTransID] = o.ID
	}
}

func (s *Store) order(id int64) (*order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *Store) orderIDByMerchant(merchantTransID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byMerchant[merchantTransID]
	return id, ok
}

func (s *Store) refundByID(refundID string) (*refund.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRefundID[refundID]
	if !ok {
		return nil, false
	}
	return s.refunds[id].Clone(), true
}

func (s *Store) refundsWhere(match func(*refund.Transaction) bool) []*refund.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*refund.Transaction
	for _, t := range s.refunds {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Store) commit(orders map[int64]*order.Order, refunds map[int64]*refund.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		s.putOrderLocked(o)
	}
	for _, t := range refunds {
		s.refunds[t.ID] = t
		s.byRefundID[t.RefundID] = t.ID
	}
}

func (s *Store) newRefundID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRefundID++
	return s.nextRefundID
}

// --- transaction ---

type transaction struct {
	s       *Store
	orders  map[int64]*order.Order
	refunds map[int64]*refund.Transaction
	done    bool
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.s.commit(t.orders, t.refunds)
	t.finish()
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *transaction) finish() {
	t.done = true
	t.s.txMu.Unlock()
}

func (t *transaction) OrderRepository() repositories.LockingOrderRepository {
	return &txOrderRepo{t: t}
}

func (t *transaction) RefundRepository() repositories.RefundRepository {
	return &txRefundRepo{t: t}
}

type txOrderRepo struct{ t *transaction }

func (r *txOrderRepo) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	if o, ok := r.t.orders[id]; ok {
		return o.Clone(), nil
	}
	if o, ok := r.t.s.order(id); ok {
		return o, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *txOrderRepo) FindByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error) {
	for _, o := range r.t.orders {
		if o.MerchantTransID == merchantTransID {
			return o.Clone(), nil
		}
	}
	id, ok := r.t.s.orderIDByMerchant(merchantTransID)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if _, staged := r.t.orders[id]; staged {
		// Staged copy moved to another merchant id.
		return nil, repositories.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

// The transaction already holds the store-wide lock.
func (r *txOrderRepo) LockByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.FindByID(ctx, id)
}

func (r *txOrderRepo) LockByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error) {
	return r.FindByMerchantTransID(ctx, merchantTransID)
}

func (r *txOrderRepo) Save(ctx context.Context, o *order.Order) error {
	if _, err := r.FindByID(ctx, o.ID); err != nil {
		return err
	}
	if o.MerchantTransID != "" {
		if owner, ok := r.t.s.orderIDByMerchant(o.MerchantTransID); ok && owner != o.ID {
			return fmt.Errorf("merchant_trans_id %s already used by order %d", o.MerchantTransID, owner)
		}
	}
	r.t.orders[o.ID] = o.Clone()
	return nil
}

type txRefundRepo struct{ t *transaction }

func (r *txRefundRepo) Save(ctx context.Context, tx *refund.Transaction) error {
	if tx.ID == 0 {
		if _, err := r.FindByRefundID(ctx, tx.RefundID); err == nil {
			return fmt.Errorf("refund_id %s already exists", tx.RefundID)
		}
		tx.ID = r.t.s.newRefundID()
	}
	r.t.refunds[tx.ID] = tx.Clone()
	return nil
}

func (r *txRefundRepo) FindByRefundID(ctx context.Context, refundID string) (*refund.Transaction, error) {
	for _, tx := range r.t.refunds {
		if tx.RefundID == refundID {
			return tx.Clone(), nil
		}
	}
	if tx, ok := r.t.s.refundByID(refundID); ok {
		return tx, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *txRefundRepo) FindByOrderID(ctx context.Context, orderID int64) ([]*refund.Transaction, error) {
	out := r.t.s.refundsWhere(func(tx *refund.Transaction) bool {
		_, staged := r.t.refunds[tx.ID]
		return tx.OrderID == orderID && !staged
	})
	for _, tx := range r.t.refunds {
		if tx.OrderID == orderID {
			out = append(out, tx.Clone())
		}
	}
	newestFirst(out)
	return out, nil
}

func (r *txRefundRepo) FindPendingReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]*refund.Transaction, error) {
	return r.t.s.Refunds().FindPendingReconciliation(ctx, staleBefore, limit)
}

// --- autocommit repositories ---

type orderRepo struct{ s *Store }

func (r *orderRepo) FindByID(ctx context.Context, id int64) (*order.Order, error) {
	if o, ok := r.s.order(id); ok {
		return o, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *orderRepo) FindByMerchantTransID(ctx context.Context, merchantTransID string) (*order.Order, error) {
	id, ok := r.s.orderIDByMerchant(merchantTransID)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *orderRepo) Save(ctx context.Context, o *order.Order) error {
	tx, err := r.s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.OrderRepository().Save(ctx, o); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type refundRepo struct{ s *Store }

func (r *refundRepo) Save(ctx context.Context, t *refund.Transaction) error {
	tx, err := r.s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.RefundRepository().Save(ctx, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *refundRepo) FindByRefundID(ctx context.Context, refundID string) (*refund.Transaction, error) {
	if t, ok := r.s.refundByID(refundID); ok {
		return t, nil
	}
	return nil, repositories.ErrNotFound
}

func (r *refundRepo) FindByOrderID(ctx context.Context, orderID int64) ([]*refund.Transaction, error) {
	out := r.s.refundsWhere(func(t *refund.Transaction) bool { return t.OrderID == orderID })
	newestFirst(out)
	return out, nil
}

func (r *refundRepo) FindPendingReconciliation(ctx context.Context, staleBefore time.Time, limit int) ([]*refund.Transaction, error) {
	out := r.s.refundsWhere(func(t *refund.Transaction) bool {
		return t.Status == refund.StatusProcessing ||
			(t.Status == refund.StatusPending && t.CreatedAt.Before(staleBefore))
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newestFirst(txs []*refund.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.After(txs[j].CreatedAt)
		}
		return txs[i].ID > txs[j].ID
	})
}
