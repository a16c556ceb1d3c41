// Package reconcile drives in-flight refunds to a terminal state on a schedule.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"paygate/internal/domain/refund"
	"paygate/internal/metrics"
	"paygate/internal/store/repositories"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const lockKey = "paygate:reconcile:refunds"

// Reconciler queries one refund and applies the answer. refund.Service
// implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, refundID string) (*refund.Transaction, error)
}

type Config struct {
	Schedule    string
	BatchSize   int
	Concurrency int
	// ItemTimeout bounds one provider query. There is no tick-wide timeout.
	ItemTimeout time.Duration
	// StaleAfter is how long a PENDING refund may wait for its own request
	// to finish before reconciliation takes it.
	StaleAfter time.Duration
	LockTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 2m"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	return c
}

// Summary counts what one tick did.
type Summary struct {
	TickID     string
	Skipped    bool
	Picked     int
	Succeeded  int
	Failed     int
	Processing int
	Errors     int
}

type Worker struct {
	refunds    repositories.RefundRepository
	reconciler Reconciler
	locker     Locker
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time
}

func NewWorker(refunds repositories.RefundRepository, reconciler Reconciler, locker Locker, m *metrics.Metrics, cfg Config) *Worker {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Worker{
		refunds:    refunds,
		reconciler: reconciler,
		locker:     locker,
		metrics:    m,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
}

// Run schedules ticks until ctx is cancelled, then waits for a running tick.
func (w *Worker) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		if _, err := w.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("reconcile tick failed")
		}
	}); err != nil {
		return err
	}

	log.Info().
		Str("schedule", w.cfg.Schedule).
		Int("batch_size", w.cfg.BatchSize).
		Int("concurrency", w.cfg.Concurrency).
		Msg("reconcile worker started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("reconcile worker stopped")
	return nil
}

// Tick reconciles one batch. It returns a skipped summary when another
// instance holds the lock.
func (w *Worker) Tick(ctx context.Context) (Summary, error) {
	sum := Summary{TickID: uuid.NewString()}
	logger := log.With().Str("tick_id", sum.TickID).Logger()

	lease, err := w.locker.Acquire(ctx, lockKey, w.cfg.LockTTL)
	if errors.Is(err, ErrLockHeld) {
		sum.Skipped = true
		logger.Debug().Msg("reconcile tick skipped, lock held")
		w.metrics.ReconcileTick("skipped", -1)
		return sum, nil
	}
	if err != nil {
		w.metrics.ReconcileTick("error", -1)
		return sum, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("reconcile lock release failed")
		}
	}()

	rows, err := w.refunds.FindPendingReconciliation(ctx, w.now().Add(-w.cfg.StaleAfter), w.cfg.BatchSize)
	if err != nil {
		w.metrics.ReconcileTick("error", -1)
		return sum, err
	}
	sum.Picked = len(rows)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(w.cfg.Concurrency)
	for _, r := range rows {
		r := r // per-iteration copy; go directive is 1.21 (pre-loopvar semantics)
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
			defer cancel()
			txn, err := w.reconciler.Reconcile(itemCtx, r.RefundID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Errors++
				logger.Warn().Err(err).Str("m_refund_id", r.RefundID).Msg("refund left for next tick")
				return nil
			}
			switch txn.Status {
			case refund.StatusSuccess:
				sum.Succeeded++
			case refund.StatusFailed:
				sum.Failed++
			default:
				sum.Processing++
			}
			return nil
		})
	}
	_ = g.Wait()

	w.metrics.ReconcileTick("ok", sum.Picked)
	if sum.Picked > 0 {
		logger.Info().
			Int("picked", sum.Picked).
			Int("succeeded", sum.Succeeded).
			Int("failed", sum.Failed).
			Int("processing", sum.Processing).
			Int("errors", sum.Errors).
			Msg("reconcile tick done")
	}
	return sum, nil
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
