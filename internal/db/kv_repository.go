package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/kv"
)

// KVRepository stores ledger records in the notification_kv table
// (see migrations/0001_notification_kv.up.sql).
type KVRepository struct {
	db     *DB
	logger *zap.Logger
}

var _ kv.Store = (*KVRepository)(nil)

// NewKVRepository creates a repository on top of the pool.
func NewKVRepository(db *DB, logger *zap.Logger) *KVRepository {
	return &KVRepository{db: db, logger: logger}
}

// Get returns the stored record or kv.ErrNotFound.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.pool.QueryRow(ctx,
		`SELECT value FROM notification_kv WHERE key = $1`, key,
	).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	return value, nil
}

// Set upserts the record.
func (r *KVRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO notification_kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	if err != nil {
		r.logger.Debug("failed to upsert record", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Delete removes the record. Deleting a missing key is not an error.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.pool.Exec(ctx, `DELETE FROM notification_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
