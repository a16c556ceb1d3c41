package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"paygate/internal/domain/order"
	"paygate/internal/domain/refund"
	"paygate/internal/store/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(s *Store) *order.Order {
	return s.PutOrder(&order.Order{
		Code:        "A1",
		Payer:       "alice",
		TotalAmount: decimal.NewFromInt(100000),
		Status:      order.StatusConfirmed,
	})
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := seed(s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := tx.OrderRepository().LockByID(ctx, o.ID)
	require.NoError(t, err)
	locked.MerchantTransID = "240101_1"
	require.NoError(t, tx.OrderRepository().Save(ctx, locked))

	r, err := refund.New(o.ID, "240101_2553_1", decimal.NewFromInt(10), "d", time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.RefundRepository().Save(ctx, r))
	assert.NotZero(t, r.ID)

	// Visible inside the transaction only.
	got, err := tx.OrderRepository().FindByMerchantTransID(ctx, "240101_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	_, err = s.Orders().FindByMerchantTransID(ctx, "240101_1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx), "second rollback is harmless")

	_, err = s.Refunds().FindByRefundID(ctx, "240101_2553_1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestCommitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := seed(s)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := tx.OrderRepository().LockByID(ctx, o.ID)
	require.NoError(t, err)
	locked.MerchantTransID = "240101_9"
	require.NoError(t, tx.OrderRepository().Save(ctx, locked))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")

	got, err := s.Orders().FindByMerchantTransID(ctx, "240101_9")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestDuplicateRefundIDRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := seed(s)

	r1, _ := refund.New(o.ID, "dup", decimal.NewFromInt(1), "d", time.Now())
	require.NoError(t, s.Refunds().Save(ctx, r1))
	r2, _ := refund.New(o.ID, "dup", decimal.NewFromInt(1), "d", time.Now())
	assert.Error(t, s.Refunds().Save(ctx, r2))
}

func TestTransactionsAreSerialized(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := seed(s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer func() { _ = tx.Rollback(ctx) }()
			locked, err := tx.OrderRepository().LockByID(ctx, o.ID)
			if !assert.NoError(t, err) {
				return
			}
			locked.Payer = locked.Payer + "x"
			assert.NoError(t, tx.OrderRepository().Save(ctx, locked))
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	got, err := s.Orders().FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Payer, len("alice")+20, "no lost updates")
}

func TestFindPendingReconciliation(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := seed(s)
	now := time.Now()

	mk := func(id string, st refund.Status, created time.Time) {
		r, err := refund.New(o.ID, id, decimal.NewFromInt(1), "d", created)
		require.NoError(t, err)
		r.Status = st
		require.NoError(t, s.Refunds().Save(ctx, r))
	}
	mk("processing-old", refund.StatusProcessing, now.Add(-time.Hour))
	mk("pending-stale", refund.StatusPending, now.Add(-10*time.Minute))
	mk("pending-fresh", refund.StatusPending, now)
	mk("done", refund.StatusSuccess, now.Add(-2*time.Hour))
	mk("processing-new", refund.StatusProcessing, now)

	got, err := s.Refunds().FindPendingReconciliation(ctx, now.Add(-2*time.Minute), 10)
	require.NoError(t, err)
	var ids []string
	for _, r := range got {
		ids = append(ids, r.RefundID)
	}
	assert.Equal(t, []string{"processing-old", "pending-stale", "processing-new"}, ids)

	limited, err := s.Refunds().FindPendingReconciliation(ctx, now.Add(-2*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	history, err := s.Refunds().FindByOrderID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, "processing-new", history[0].RefundID)
}
