package storage

import (
	"context"
	"errors"
)

// ErrInvalidKey indicates a key is empty.
var ErrInvalidKey = errors.New("storage: invalid key")

// KV is the durable key-value store every persistence backend must satisfy.
// Values are opaque JSON documents.
type KV interface {
	// Get returns (value, true, nil) if found, (nil, false, nil) if not found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys returns every stored key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
