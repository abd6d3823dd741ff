package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKV stores engine state in the proctor_kv table.
type PostgresKV struct {
	pool   *pgxpool.Pool
	prefix string
}

// NewPostgresKV creates a PostgresKV. prefix namespaces keys per device.
func NewPostgresKV(pool *pgxpool.Pool, prefix string) *PostgresKV {
	return &PostgresKV{pool: pool, prefix: prefix}
}

func (r *PostgresKV) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM proctor_kv WHERE key = $1`, r.key(key),
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (r *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	// UPSERT: create or replace without a read.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_kv (key, value)
		 VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = NOW()`,
		r.key(key), value,
	)
	return err
}

func (r *PostgresKV) Remove(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM proctor_kv WHERE key = $1`, r.key(key))
	return err
}
