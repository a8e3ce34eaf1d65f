package interfaces

import (
	"context"
	"errors"
)

// ErrNotFound is returned by StateStore.Load when no document exists under
// the key.
var ErrNotFound = errors.New("state document not found")

// StateStore persists JSON documents in durable remote storage.
type StateStore interface {
	Save(ctx context.Context, key string, doc any) error
	Load(ctx context.Context, key string, doc any) error
}
