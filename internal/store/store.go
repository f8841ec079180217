package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IMPORTANT:
// Order status only changes in AssignJobToAgent and transitionOrderStatus.
// Any other UPDATE of orders.status is a correctness bug.

type Store struct {
	connectionPool *pgxpool.Pool
}

func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{connectionPool: pool}, nil
}

func (s *Store) Close() {
	s.connectionPool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.connectionPool.Ping(ctx)
}
