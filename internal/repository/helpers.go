package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/canvastodo/card-server-go/internal/store"
)

// ErrCorruptRecord marks a stored record that no longer decodes. Callers treat
// it like a missing record.
var ErrCorruptRecord = errors.New("corrupt record")

// getJSON loads and decodes the record under key. A missing key yields nil
// without error, the same way a missing row does.
func getJSON[T any](ctx context.Context, s store.Store, key string) (*T, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, store.ErrSealBroken) {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptRecord, key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if raw == nil {
		return nil, nil
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptRecord, key, err)
	}
	return &result, nil
}

func setJSON(ctx context.Context, s store.Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
