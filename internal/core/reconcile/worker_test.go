package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paygate/internal/domain/order"
	"paygate/internal/domain/refund"
	"paygate/internal/provider/providertest"
	refundsvc "paygate/internal/services/refund"
	"paygate/internal/store/memory"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type noIDs struct{}

func (noIDs) MerchantTransID(time.Time) string { return "" }
func (noIDs) RefundID(time.Time) string        { return "" }

func seedRefund(t *testing.T, store *memory.Store, orderID int64, refundID string, status refund.Status, created time.Time) {
	t.Helper()
	txn, err := refund.New(orderID, refundID, decimal.NewFromInt(10000), "seed", created)
	require.NoError(t, err)
	if status != refund.StatusPending {
		txn.Apply(status, nil, "", created)
	}
	require.NoError(t, store.Refunds().Save(context.Background(), txn))
}

func refundStatus(t *testing.T, store *memory.Store, refundID string) refund.Status {
	t.Helper()
	txn, err := store.Refunds().FindByRefundID(context.Background(), refundID)
	require.NoError(t, err)
	return txn.Status
}

func TestTick_ResolvesInFlightRefunds(t *testing.T) {
	store := memory.New()
	gw := &providertest.Gateway{}
	svc := refundsvc.NewService(store, gw, noIDs{}, nil, nil, time.Second)
	w := NewWorker(store.Refunds(), svc, nil, nil, Config{StaleAfter: 5 * time.Minute})
	ctx := context.Background()

	o := store.PutOrder(&order.Order{
		TotalAmount:     decimal.NewFromInt(100000),
		Status:          order.StatusConfirmed,
		MerchantTransID: "241018_1",
		ProviderTransID: "241018000000001",
	})
	now := time.Now()
	seedRefund(t, store, o.ID, "r-processing-ok", refund.StatusProcessing, now.Add(-time.Minute))
	seedRefund(t, store, o.ID, "r-processing-fail", refund.StatusProcessing, now.Add(-time.Minute))
	seedRefund(t, store, o.ID, "r-stale-pending", refund.StatusPending, now.Add(-10*time.Minute))
	seedRefund(t, store, o.ID, "r-fresh-pending", refund.StatusPending, now)
	seedRefund(t, store, o.ID, "r-done", refund.StatusSuccess, now.Add(-time.Hour))

	gw.On("QueryRefund", mock.Anything, "r-processing-ok").Return(providertest.RefundResp(1, "ok"), nil).Once()
	gw.On("QueryRefund", mock.Anything, "r-processing-fail").Return(providertest.RefundResp(2, "fail"), nil).Once()
	gw.On("QueryRefund", mock.Anything, "r-stale-pending").Return(providertest.RefundResp(3, "processing"), nil).Once()

	sum, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sum.TickID)
	assert.Equal(t, 3, sum.Picked)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Processing)
	assert.Zero(t, sum.Errors)

	assert.Equal(t, refund.StatusSuccess, refundStatus(t, store, "r-processing-ok"))
	assert.Equal(t, refund.StatusFailed, refundStatus(t, store, "r-processing-fail"))
	assert.Equal(t, refund.StatusProcessing, refundStatus(t, store, "r-stale-pending"))
	assert.Equal(t, refund.StatusPending, refundStatus(t, store, "r-fresh-pending"))

	stored, err := store.Orders().FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRefunded, stored.Status)

	// Terminal rows are not picked again.
	gw.On("QueryRefund", mock.Anything, "r-stale-pending").Return(providertest.RefundResp(1, "ok"), nil).Once()
	sum, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Picked)
	assert.Equal(t, 1, sum.Succeeded)

	sum, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Picked)
	gw.AssertExpectations(t)
}

func TestTick_QueryErrorLeavesRow(t *testing.T) {
	store := memory.New()
	gw := &providertest.Gateway{}
	svc := refundsvc.NewService(store, gw, noIDs{}, nil, nil, time.Second)
	w := NewWorker(store.Refunds(), svc, nil, nil, Config{})

	o := store.PutOrder(&order.Order{TotalAmount: decimal.NewFromInt(50000), Status: order.StatusConfirmed, ProviderTransID: "1"})
	seedRefund(t, store, o.ID, "r-1", refund.StatusProcessing, time.Now())
	gw.On("QueryRefund", mock.Anything, "r-1").Return(nil, context.DeadlineExceeded)

	sum, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, refund.StatusProcessing, refundStatus(t, store, "r-1"))
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	store := memory.New()
	locker := NewLocalLocker()
	rec := &countingReconciler{}
	w := NewWorker(store.Refunds(), rec, locker, nil, Config{})
	seedRefund(t, store, 1, "r-1", refund.StatusProcessing, time.Now())

	lease, err := locker.Acquire(context.Background(), lockKey, time.Minute)
	require.NoError(t, err)

	sum, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Skipped)
	assert.Zero(t, rec.calls.Load())

	require.NoError(t, lease.Release(context.Background()))
	sum, err = w.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.Skipped)
	assert.Equal(t, int64(1), rec.calls.Load())
}

type countingReconciler struct {
	calls   atomic.Int64
	active  atomic.Int64
	maxSeen atomic.Int64
	delay   time.Duration
}

func (c *countingReconciler) Reconcile(ctx context.Context, refundID string) (*refund.Transaction, error) {
	c.calls.Add(1)
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("reconcile called without a deadline")
	}
	time.Sleep(c.delay)
	return &refund.Transaction{RefundID: refundID, Status: refund.StatusSuccess}, nil
}

func TestTick_BoundedConcurrency(t *testing.T) {
	store := memory.New()
	for i := 0; i < 20; i++ {
		seedRefund(t, store, 1, fmt.Sprintf("r-%02d", i), refund.StatusProcessing, time.Now())
	}
	rec := &countingReconciler{delay: 10 * time.Millisecond}
	w := NewWorker(store.Refunds(), rec, nil, nil, Config{Concurrency: 3, BatchSize: 15})

	sum, err := w.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, sum.Picked)
	assert.Equal(t, 15, sum.Succeeded)
	assert.Zero(t, sum.Errors)
	assert.LessOrEqual(t, rec.maxSeen.Load(), int64(3))
}

func TestRun_TicksOnSchedule(t *testing.T) {
	store := memory.New()
	seedRefund(t, store, 1, "r-1", refund.StatusProcessing, time.Now())
	rec := &countingReconciler{}
	w := NewWorker(store.Refunds(), rec, nil, nil, Config{Schedule: "@every 1s"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool { return rec.calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRun_BadSchedule(t *testing.T) {
	w := NewWorker(memory.New().Refunds(), &countingReconciler{}, nil, nil, Config{Schedule: "not a schedule"})
	assert.Error(t, w.Run(context.Background()))
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	_, err = l.Acquire(ctx, "other", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
	_, err = l.Acquire(ctx, "k", time.Minute)
	assert.NoError(t, err)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	l := NewRedisLocker(rdb)
	key := fmt.Sprintf("paygate:test:%d", time.Now().UnixNano())

	var wg sync.WaitGroup
	var held atomic.Int64
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(ctx, key, 5*time.Second); err == nil {
				held.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), held.Load())
}
