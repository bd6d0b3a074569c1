package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// kvTimeout bounds each store round trip.
const kvTimeout = 5 * time.Second

const kvSchema = `
CREATE TABLE IF NOT EXISTS opqueue_kv (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// KVStore is a key/value snapshot store on top of one PostgreSQL
// table. It satisfies the same Save/Load surface as the embedded
// backend.
type KVStore struct {
	client *Client
}

// NewKVStore ensures the backing table exists and returns the store.
func NewKVStore(client *Client) (*KVStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	if _, err := client.db.ExecContext(ctx, kvSchema); err != nil {
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &KVStore{client: client}, nil
}

// Save upserts one value.
func (s *KVStore) Save(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	_, err := s.client.db.ExecContext(ctx,
		`INSERT INTO opqueue_kv (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save %q: %w", key, err)
	}
	return nil
}

// Load reads one value. The second return reports whether the key
// exists.
func (s *KVStore) Load(key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	var data []byte
	err := s.client.db.GetContext(ctx, &data,
		`SELECT value FROM opqueue_kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return data, true, nil
}

// Delete removes one key. Deleting an absent key is not an error.
func (s *KVStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), kvTimeout)
	defer cancel()

	if _, err := s.client.db.ExecContext(ctx,
		`DELETE FROM opqueue_kv WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}
