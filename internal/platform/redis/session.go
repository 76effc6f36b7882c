package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/phrazzld/redaction-api/internal/kv"
)

type session struct {
	client *goredis.Client
	pipe   goredis.Pipeliner
	writes int
}

func (s *session) Set(ctx context.Context, key string, value []byte) {
	s.writes++
	s.pipe.Set(ctx, key, value, 0)
}

func (s *session) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	return b, err
}

func (s *session) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *session) SAdd(ctx context.Context, key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	s.writes++
	s.pipe.SAdd(ctx, key, args...)
}

func (s *session) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *session) HSet(ctx context.Context, key string, values map[string]string) {
	if len(values) == 0 {
		return
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	s.writes++
	s.pipe.HSet(ctx, key, fields)
}

func (s *session) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *session) ExpireAt(ctx context.Context, key string, at time.Time) {
	s.writes++
	s.pipe.ExpireAt(ctx, key, at)
}

func (s *session) Enqueue(ctx context.Context, key string, value string) {
	s.writes++
	s.pipe.RPush(ctx, key, value)
}

func (s *session) Peek(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.LIndex(ctx, key, 0).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *session) Remove(ctx context.Context, key string, value string) (bool, error) {
	n, err := s.client.LRem(ctx, key, 1, value).Result()
	return n > 0, err
}

func (s *session) SetNX(ctx context.Context, key string, value []byte, expireAt time.Time) (bool, error) {
	err := s.client.SetArgs(ctx, key, value, goredis.SetArgs{Mode: "NX", ExpireAt: expireAt}).Err()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// deleteIf removes KEYS[1] only while it still holds ARGV[1].
var deleteIf = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *session) DeleteIf(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := deleteIf.Run(ctx, s.client, []string{key}, value).Int64()
	return n > 0, err
}

func (s *session) Time(ctx context.Context) (time.Time, error) {
	return s.client.Time(ctx).Result()
}
