package db

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

const defaultPoolSize = 10

func NewDb(ctx context.Context, dsn string) (*Database, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = defaultPoolSize
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewDatabase(pool), nil
}
