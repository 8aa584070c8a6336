package card

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/auth"
	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/events"
	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/repository"
	"github.com/canvastodo/card-server-go/internal/store"
	"github.com/canvastodo/card-server-go/internal/todo"
)

// Host keeps one card per profile for this server instance.
type Host struct {
	cfg     *config.Config
	backend store.Store
	bus     events.Bus
	tokens  auth.TokenClient
	canvas  todo.CanvasAPI

	mu    sync.Mutex
	cards map[string]*Card
}

func NewHost(cfg *config.Config, backend store.Store, bus events.Bus, tokens auth.TokenClient, api todo.CanvasAPI) *Host {
	return &Host{
		cfg:     cfg,
		backend: backend,
		bus:     bus,
		tokens:  tokens,
		canvas:  api,
		cards:   make(map[string]*Card),
	}
}

// Mount returns the profile's card, creating it on first use.
func (h *Host) Mount(ctx context.Context, profileID string, cb *model.OAuthCallback) (*Card, error) {
	c := h.card(profileID)
	return c, c.Mount(ctx, cb)
}

// Lookup returns the mounted card of a profile.
func (h *Host) Lookup(profileID string) (*Card, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.cards[profileID]
	return c, ok
}

func (h *Host) Unmount(profileID string) bool {
	h.mu.Lock()
	c, ok := h.cards[profileID]
	delete(h.cards, profileID)
	h.mu.Unlock()

	if ok {
		c.Unmount()
	}
	return ok
}

func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cards)
}

// Close unmounts every card.
func (h *Host) Close() {
	h.mu.Lock()
	cards := h.cards
	h.cards = make(map[string]*Card)
	h.mu.Unlock()

	for _, c := range cards {
		c.Unmount()
	}
	log.Info().Int("cards", len(cards)).Msg("card host closed")
}

func (h *Host) card(profileID string) *Card {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.cards[profileID]; ok {
		return c
	}

	scoped := store.NewScoped(h.backend, config.StorageScope, profileID)
	manager := auth.NewManager(auth.Options{
		ProfileID:   profileID,
		RedirectURI: h.cfg.ProfileURL(profileID),
		Sessions:    repository.NewSessionRepository(scoped),
		Pending:     repository.NewPendingAuthRepository(scoped),
		Client:      h.tokens,
		Bus:         h.bus,
		InstanceID:  uuid.NewString(),
	})
	c := New(profileID, manager, h.canvas, h.cfg.MaxTasks, h.cfg.RefreshInterval())
	h.cards[profileID] = c

	log.Info().
		Str("profileId", profileID).
		Str("instanceId", manager.InstanceID()).
		Msg("card created")
	return c
}
