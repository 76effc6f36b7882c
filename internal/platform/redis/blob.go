package redis

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// ErrBlobNotFound is returned when a storage id has no content, usually
// because it outlived the retention window.
var ErrBlobNotFound = errors.New("blob not found")

const blobKeyPrefix = "blob:"

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls and
// expensive to build, so one pair serves the process.
var (
	codecOnce   sync.Once
	blobEncoder *zstd.Encoder
	blobDecoder *zstd.Decoder
	codecErr    error
)

func initCodec() error {
	codecOnce.Do(func() {
		blobEncoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		blobDecoder, codecErr = zstd.NewReader(nil)
	})
	return codecErr
}

// BlobStore holds stage payloads (fetched inputs, redacted outputs) keyed by
// the BLAKE3 digest of their uncompressed bytes. Identical content saved
// twice shares one key.
type BlobStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewBlobStore returns a store whose entries expire after ttl. A zero ttl
// keeps entries forever.
func NewBlobStore(client *goredis.Client, ttl time.Duration) *BlobStore {
	return &BlobStore{client: client, ttl: ttl}
}

// ContentHash returns the hex BLAKE3 digest used as a blob's storage id.
func ContentHash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save stores data and returns its storage id.
func (b *BlobStore) Save(ctx context.Context, data []byte) (string, error) {
	if err := initCodec(); err != nil {
		return "", fmt.Errorf("failed to init blob codec: %w", err)
	}
	id := ContentHash(data)
	payload := blobEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := b.client.Set(ctx, blobKeyPrefix+id, payload, b.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to save blob %s: %w", id, err)
	}
	return id, nil
}

// Load returns the content for a storage id. An empty id loads as empty
// content so stages that received no input can pass through.
func (b *BlobStore) Load(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, nil
	}
	if err := initCodec(); err != nil {
		return nil, fmt.Errorf("failed to init blob codec: %w", err)
	}
	payload, err := b.client.Get(ctx, blobKeyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load blob %s: %w", id, err)
	}
	data, err := blobDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob %s: %w", id, err)
	}
	return data, nil
}
