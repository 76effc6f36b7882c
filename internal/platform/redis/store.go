package redis

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"github.com/phrazzld/redaction-api/internal/kv"
	"github.com/phrazzld/redaction-api/internal/platform/logger"
)

// Store is a kv.Store backed by a redis client.
type Store struct {
	client *goredis.Client
}

var _ kv.Store = (*Store)(nil)

// Open parses a redis:// URL and returns a connected client.
func Open(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func NewStore(client *goredis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Tx buffers fn's writes in a MULTI/EXEC pipeline. The pipeline is executed
// when fn succeeds and discarded when it fails.
func (s *Store) Tx(ctx context.Context, fn func(kv.Session) error) error {
	sess := &session{client: s.client, pipe: s.client.TxPipeline()}

	if err := fn(sess); err != nil {
		_ = sess.pipe.Discard()
		return err
	}
	if sess.writes == 0 {
		return nil
	}
	if _, err := sess.pipe.Exec(ctx); err != nil {
		logger.FromContext(ctx).Error("failed to commit redis session", "error", err)
		return fmt.Errorf("failed to commit redis session: %w", err)
	}
	return nil
}
