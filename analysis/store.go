package analysis

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when nothing is persisted under a key.
var ErrNotFound = errors.New("analysis: not found")

// Store is the durable backing of a Context. Values are opaque JSON documents
// written wholesale; implementations must never expose a half-written value.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// DefaultKey is the key used when a single, process-wide context is enough (CLI).
const DefaultKey = "latest_analysis"
