package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/canvastodo/card-server-go/internal/util"
)

// ErrSealBroken means a sealed value failed to open: it was tampered with or
// sealed under another ENCRYPTION_KEY.
var ErrSealBroken = errors.New("sealed value cannot be opened")

// SealedStore encrypts values with AES-256-GCM before handing them to the
// backing store. Keys stay in the clear.
type SealedStore struct {
	inner Store
	key   []byte
}

func NewSealedStore(inner Store, secret string) (*SealedStore, error) {
	key, err := util.DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return &SealedStore{inner: inner, key: key}, nil
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil || sealed == nil {
		return nil, err
	}

	plain, err := util.Decrypt(s.key, string(sealed))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSealBroken, key, err)
	}
	return []byte(plain), nil
}

func (s *SealedStore) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := util.Encrypt(s.key, string(value))
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Set(ctx, key, []byte(sealed))
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
