package repository

import (
	"context"

	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/store"
)

const SessionKey = "canvas-last-login"

type SessionRepository interface {
	// Find returns nil when no session was ever saved.
	Find(ctx context.Context) (*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	// Clear persists the empty session; the key itself is kept.
	Clear(ctx context.Context) error
}

type sessionRepo struct {
	store store.Store
}

func NewSessionRepository(s store.Store) SessionRepository {
	return &sessionRepo{store: s}
}

func (r *sessionRepo) Find(ctx context.Context) (*model.Session, error) {
	return getJSON[model.Session](ctx, r.store, SessionKey)
}

func (r *sessionRepo) Save(ctx context.Context, session *model.Session) error {
	return setJSON(ctx, r.store, SessionKey, session)
}

func (r *sessionRepo) Clear(ctx context.Context) error {
	return setJSON(ctx, r.store, SessionKey, &model.Session{})
}
