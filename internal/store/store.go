package store

import (
	"context"

	"nuha.dev/formrelay/internal/submission"
)

// Store persists submission records. Put is called from the ingest loop
// only; implementations that may be shared must guard themselves.
type Store interface {
	Put(ctx context.Context, rec submission.Record) error
	Close() error
}
