package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ErrResultNotFound is returned for a chain with no stored result.
var ErrResultNotFound = errors.New("chain result not found")

const resultKeyPrefix = "chain-result:"

// ResultStore keeps the final step output of each queued chain for the
// retention window.
type ResultStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewResultStore(client *goredis.Client, ttl time.Duration) *ResultStore {
	return &ResultStore{client: client, ttl: ttl}
}

func (r *ResultStore) SaveResult(ctx context.Context, chainID string, result []byte) error {
	if err := r.client.Set(ctx, resultKeyPrefix+chainID, result, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result for chain %s: %w", chainID, err)
	}
	return nil
}

func (r *ResultStore) Result(ctx context.Context, chainID string) ([]byte, error) {
	b, err := r.client.Get(ctx, resultKeyPrefix+chainID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result for chain %s: %w", chainID, err)
	}
	return b, nil
}
