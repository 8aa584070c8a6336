// Package store persists the card's small key/value records: the last login
// and the in-flight OAuth request.
package store

import "context"

// Store is a last-write-wins key/value store. Get returns nil, nil when the
// key is absent.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
