package repository

import (
	"context"

	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/store"
)

const PendingAuthKey = "canvas-oauth-request"

type PendingAuthRepository interface {
	Find(ctx context.Context) (*model.PendingAuthRequest, error)
	Save(ctx context.Context, req *model.PendingAuthRequest) error
	Delete(ctx context.Context) error
}

type pendingAuthRepo struct {
	store store.Store
}

func NewPendingAuthRepository(s store.Store) PendingAuthRepository {
	return &pendingAuthRepo{store: s}
}

func (r *pendingAuthRepo) Find(ctx context.Context) (*model.PendingAuthRequest, error) {
	return getJSON[model.PendingAuthRequest](ctx, r.store, PendingAuthKey)
}

func (r *pendingAuthRepo) Save(ctx context.Context, req *model.PendingAuthRequest) error {
	return setJSON(ctx, r.store, PendingAuthKey, req)
}

func (r *pendingAuthRepo) Delete(ctx context.Context) error {
	return r.store.Delete(ctx, PendingAuthKey)
}
