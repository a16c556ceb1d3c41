package postgres

import (
	"context"

	"paygate/internal/store/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo bundles the pool-backed repositories and unit of work.
type Repo struct {
	db  *pgxpool.Pool
	uow repositories.UnitOfWork
}

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{db: db, uow: NewUnitOfWork(db)} }

func (r *Repo) Orders() repositories.OrderRepository   { return NewOrderRepository(r.db) }
func (r *Repo) Refunds() repositories.RefundRepository { return NewRefundRepository(r.db) }

func (r *Repo) Begin(ctx context.Context) (repositories.Transaction, error) {
	return r.uow.Begin(ctx)
}

// Expose the underlying pool for health checks.
func (r *Repo) DB() *pgxpool.Pool { return r.db }
