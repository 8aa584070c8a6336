package store

import (
	"context"
	"fmt"
)

// Scoped namespaces every key under "<scope>:<profile>:" so profiles sharing a
// backend never see each other's records.
type Scoped struct {
	inner  Store
	prefix string
}

func NewScoped(inner Store, scope, profileID string) *Scoped {
	return &Scoped{inner: inner, prefix: fmt.Sprintf("%s:%s:", scope, profileID)}
}

func (s *Scoped) Key(key string) string {
	return s.prefix + key
}

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, s.Key(key))
}

func (s *Scoped) Set(ctx context.Context, key string, value []byte) error {
	return s.inner.Set(ctx, s.Key(key), value)
}

func (s *Scoped) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.Key(key))
}
