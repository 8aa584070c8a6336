// Package auth owns the Canvas OAuth session of one profile: PKCE login,
// callback completion, silent refresh and login/logout broadcasts.
package auth

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/audit"
	"github.com/canvastodo/card-server-go/internal/config"
	apperrors "github.com/canvastodo/card-server-go/internal/errors"
	"github.com/canvastodo/card-server-go/internal/events"
	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/repository"
	"github.com/canvastodo/card-server-go/internal/util"
)

type listener struct {
	id int
	fn func(Snapshot)
}

// Snapshot is the auth state exposed to the card.
type Snapshot struct {
	Phase    Phase  `json:"phase"`
	State    string `json:"state"`
	LoggedIn bool   `json:"loggedIn"`
	Error    bool   `json:"error"`
}

type Options struct {
	// ProfileID is the Experience user id the session belongs to.
	ProfileID   string
	RedirectURI string
	Sessions    repository.SessionRepository
	Pending     repository.PendingAuthRepository
	Client      TokenClient
	Bus         events.Bus
	InstanceID  string
	Now         func() time.Time
}

type Manager struct {
	profileID   string
	redirectURI string
	instanceID  string
	sessions    repository.SessionRepository
	pending     repository.PendingAuthRepository
	client      TokenClient
	bus         events.Bus
	now         func() time.Time

	// dispatchMu makes events run one at a time, effects included.
	dispatchMu sync.Mutex
	// refreshMu lets concurrent callers share a single refresh-token exchange.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	phase     Phase
	token     string
	loggedIn  bool
	errFlag   bool
	listeners []listener
	nextID    int

	// authorize URL produced by EffectBeginLogin, read back by Login
	authURL string

	sub  *events.Subscriber
	done chan struct{}
	wg   sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	instanceID := opts.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		profileID:   opts.ProfileID,
		redirectURI: opts.RedirectURI,
		instanceID:  instanceID,
		sessions:    opts.Sessions,
		pending:     opts.Pending,
		client:      opts.Client,
		bus:         opts.Bus,
		now:         now,
		phase:       PhaseInitialize,
		done:        make(chan struct{}),
	}
}

func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Start runs the initialize phase and begins listening for broadcasts. A
// complete callback finishes a login; otherwise the persisted session is restored.
func (m *Manager) Start(ctx context.Context, cb *model.OAuthCallback) error {
	var err error
	switch {
	case cb.Complete():
		err = m.dispatch(ctx, EventCallback, cb)
	default:
		if cb != nil && cb.Error != "" {
			m.RejectCallback(ctx, cb)
		}
		err = m.dispatch(ctx, EventRestore, nil)
	}

	if m.bus != nil && m.sub == nil {
		m.sub = m.bus.Subscribe(m.profileID)
		m.wg.Add(1)
		go m.listen(m.sub)
	}
	return err
}

// Close stops listening for broadcasts and waits for the listener to exit.
func (m *Manager) Close() {
	select {
	case <-m.done:
		return
	default:
		close(m.done)
	}
	if m.sub != nil {
		m.bus.Unsubscribe(m.sub)
	}
	m.wg.Wait()
}

// CompleteLogin finishes the login Canvas redirected back with.
func (m *Manager) CompleteLogin(ctx context.Context, cb *model.OAuthCallback) error {
	if !cb.Complete() {
		return apperrors.MissingRequired("code and state")
	}
	return m.dispatch(ctx, EventCallback, cb)
}

// RejectCallback records a redirect Canvas sent back with an error instead of a code.
func (m *Manager) RejectCallback(ctx context.Context, cb *model.OAuthCallback) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	m.rejectCallback(ctx, cb)
}

// Login stores a fresh PKCE request and returns the Canvas authorize URL the
// user agent must navigate to.
func (m *Manager) Login(ctx context.Context) (string, error) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	if err := m.dispatchLocked(ctx, EventLoginRequested, nil); err != nil {
		return "", err
	}
	authURL := m.authURL
	m.authURL = ""
	if authURL == "" {
		return "", apperrors.Internal("Sign-in is not available yet")
	}
	return authURL, nil
}

func (m *Manager) Logout(ctx context.Context) error {
	return m.dispatch(ctx, EventLogoutRequested, nil)
}

// GetAccessToken returns a token with more than the expiry skew left, refreshing
// it at most once. Errors are NOT_AUTHENTICATED or TOKEN_REFRESH_FAILED.
func (m *Manager) GetAccessToken(ctx context.Context) (string, error) {
	session, err := m.loadSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", apperrors.NotAuthenticated()
	}
	if session.FreshAt(m.now(), config.TokenExpirySkew) {
		return session.AccessToken, nil
	}
	return m.refresh(ctx)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) LoggedIn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loggedIn && m.token != ""
}

// OnChange registers fn for every snapshot change and returns a function that
// removes it. Listeners run on the dispatching goroutine, in order, and must
// not block or call back into Login, Logout or CompleteLogin.
func (m *Manager) OnChange(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		m.listeners = slices.DeleteFunc(m.listeners, func(l listener) bool { return l.id == id })
		m.mu.Unlock()
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	state := "not-ready"
	if m.phase == PhaseReady || m.phase == PhaseDoLogout {
		state = "ready"
	}
	return Snapshot{
		Phase:    m.phase,
		State:    state,
		LoggedIn: m.loggedIn && m.token != "",
		Error:    m.errFlag,
	}
}

func (m *Manager) dispatch(ctx context.Context, ev Event, cb *model.OAuthCallback) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	return m.dispatchLocked(ctx, ev, cb)
}

// dispatchLocked runs one event to completion: transition, effects, settle.
func (m *Manager) dispatchLocked(ctx context.Context, ev Event, cb *model.OAuthCallback) error {
	m.mu.RLock()
	from := m.phase
	m.mu.RUnlock()

	to, effects, ok := Transition(from, ev)
	if !ok {
		log.Debug().
			Str("profileId", m.profileID).
			Str("phase", string(from)).
			Stringer("event", ev).
			Msg("auth event ignored")
		return nil
	}
	m.setPhase(to)

	var err error
	for _, effect := range effects {
		if err = m.run(ctx, effect, cb); err != nil {
			break
		}
	}

	if next, _, ok := Transition(to, EventSettled); ok {
		m.setPhase(next)
	}
	return err
}

func (m *Manager) run(ctx context.Context, effect Effect, cb *model.OAuthCallback) error {
	switch effect {
	case EffectRestoreSession:
		m.restore(ctx)
		return nil
	case EffectCompleteLogin:
		err := m.completeLogin(ctx, cb)
		if err != nil {
			m.update(func() { m.errFlag = true })
		}
		return err
	case EffectBeginLogin:
		return m.beginLogin(ctx)
	case EffectLogout:
		return m.logout(ctx)
	case EffectDeriveToken:
		m.deriveToken(ctx)
		return nil
	case EffectDropToken:
		m.update(func() {
			m.token = ""
			m.loggedIn = false
		})
		return nil
	}
	return nil
}

func (m *Manager) restore(ctx context.Context) {
	session, err := m.loadSession(ctx)
	if err != nil {
		log.Error().Err(err).Str("profileId", m.profileID).Msg("failed to load canvas session")
		return
	}
	if session == nil || session.ExpiredAt(m.now()) {
		return
	}

	token, err := m.GetAccessToken(ctx)
	if err != nil {
		log.Warn().Err(err).Str("profileId", m.profileID).Msg("stored canvas session not usable")
		return
	}
	m.update(func() {
		m.token = token
		m.loggedIn = true
	})
}

func (m *Manager) completeLogin(ctx context.Context, cb *model.OAuthCallback) error {
	req, err := m.pending.Find(ctx)
	if err != nil && !errors.Is(err, repository.ErrCorruptRecord) {
		return apperrors.Database(err)
	}
	// The request is single use whatever happens next.
	if err := m.pending.Delete(ctx); err != nil {
		log.Error().Err(err).Str("profileId", m.profileID).Msg("failed to clear pending oauth request")
	}

	if req == nil || !util.ConstantTimeEqual(cb.State, req.State) {
		audit.Log(ctx, audit.Event{
			Type:       audit.EventStateMismatch,
			ProfileID:  m.profileID,
			InstanceID: m.instanceID,
			Details:    map[string]interface{}{"pending": req != nil},
		})
		return apperrors.AuthStateMismatch()
	}
	if m.now().Sub(req.CreatedAt) > config.PendingAuthMaxAge {
		m.auditLoginFailure(ctx, "pending request expired")
		return apperrors.New(apperrors.ErrCodeAuthStateMismatch, "Login request expired, please sign in again")
	}

	tok, err := m.client.Exchange(ctx, cb.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		logTokenError(log.Error(), err).Str("profileId", m.profileID).Msg("canvas token exchange failed")
		m.auditLoginFailure(ctx, "token exchange failed")
		return apperrors.TokenExchangeFailed(err)
	}

	expiresAt := m.now().Add(tok.ExpiresIn)
	session := &model.Session{
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		ExpiresAt:            &expiresAt,
		LastExperienceUserID: m.profileID,
	}
	if err := m.sessions.Save(ctx, session); err != nil {
		return apperrors.Database(err)
	}

	m.update(func() {
		m.token = tok.AccessToken
		m.loggedIn = true
		m.errFlag = false
	})

	audit.Log(ctx, audit.Event{
		Type:       audit.EventLoginSuccess,
		ProfileID:  m.profileID,
		InstanceID: m.instanceID,
		Details:    map[string]interface{}{"expiresAt": expiresAt.Format(time.RFC3339)},
	})

	m.publish(ctx, model.BroadcastLogin)
	return nil
}

func (m *Manager) beginLogin(ctx context.Context) error {
	pkce, err := NewPKCE()
	if err != nil {
		return apperrors.Internal("Failed to start login").WithCause(err)
	}

	req := &model.PendingAuthRequest{
		CodeVerifier: pkce.Verifier,
		State:        pkce.State,
		RedirectURI:  m.redirectURI,
		CreatedAt:    m.now(),
	}
	if err := m.pending.Save(ctx, req); err != nil {
		return apperrors.Database(err)
	}

	m.authURL = m.client.AuthCodeURL(pkce.State, m.redirectURI, pkce.Verifier)

	audit.Log(ctx, audit.Event{
		Type:       audit.EventLoginStart,
		ProfileID:  m.profileID,
		InstanceID: m.instanceID,
	})
	return nil
}

func (m *Manager) logout(ctx context.Context) error {
	if err := m.sessions.Clear(ctx); err != nil {
		return apperrors.Database(err)
	}
	if err := m.pending.Delete(ctx); err != nil {
		log.Error().Err(err).Str("profileId", m.profileID).Msg("failed to clear pending oauth request")
	}

	m.update(func() {
		m.token = ""
		m.loggedIn = false
	})

	audit.Log(ctx, audit.Event{
		Type:       audit.EventLogout,
		ProfileID:  m.profileID,
		InstanceID: m.instanceID,
	})

	m.publish(ctx, model.BroadcastLogout)
	return nil
}

func (m *Manager) deriveToken(ctx context.Context) {
	token, err := m.GetAccessToken(ctx)
	if err != nil {
		log.Warn().Err(err).Str("profileId", m.profileID).Msg("login broadcast without usable session")
		return
	}
	m.update(func() {
		m.token = token
		m.loggedIn = true
	})
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	session, err := m.loadSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", apperrors.NotAuthenticated()
	}
	if session.FreshAt(m.now(), config.TokenExpirySkew) {
		return session.AccessToken, nil
	}
	if session.RefreshToken == "" {
		return "", apperrors.TokenRefreshFailed(errors.New("no refresh token stored"))
	}

	tok, err := m.client.Refresh(ctx, session.RefreshToken)
	if err != nil {
		logTokenError(log.Error(), err).Str("profileId", m.profileID).Msg("canvas token refresh failed")
		audit.Log(ctx, audit.Event{
			Type:       audit.EventRefreshFailure,
			ProfileID:  m.profileID,
			InstanceID: m.instanceID,
		})
		return "", apperrors.TokenRefreshFailed(err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = session.RefreshToken
	}
	expiresAt := m.now().Add(tok.ExpiresIn)
	next := &model.Session{
		AccessToken:          tok.AccessToken,
		RefreshToken:         refreshToken,
		ExpiresAt:            &expiresAt,
		LastExperienceUserID: m.profileID,
	}
	if err := m.sessions.Save(ctx, next); err != nil {
		return "", apperrors.Database(err)
	}

	log.Debug().
		Str("profileId", m.profileID).
		Time("expiresAt", expiresAt).
		Msg("canvas access token refreshed")
	audit.Log(ctx, audit.Event{
		Type:       audit.EventTokenRefresh,
		ProfileID:  m.profileID,
		InstanceID: m.instanceID,
	})

	m.update(func() { m.token = tok.AccessToken })
	return tok.AccessToken, nil
}

// loadSession returns the stored session, or nil when it is absent, corrupt,
// lacks an expiry, or belongs to another Experience user.
func (m *Manager) loadSession(ctx context.Context) (*model.Session, error) {
	session, err := m.sessions.Find(ctx)
	if errors.Is(err, repository.ErrCorruptRecord) {
		log.Warn().Err(err).Str("profileId", m.profileID).Msg("ignoring corrupt canvas session")
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if !session.Valid() || !session.BelongsTo(m.profileID) {
		return nil, nil
	}
	return session, nil
}

func (m *Manager) rejectCallback(ctx context.Context, cb *model.OAuthCallback) {
	log.Error().
		Str("profileId", m.profileID).
		Str("error", cb.Error).
		Str("description", cb.ErrorDescription).
		Msg("canvas oauth error")
	m.auditLoginFailure(ctx, cb.Error)

	if err := m.pending.Delete(ctx); err != nil {
		log.Error().Err(err).Str("profileId", m.profileID).Msg("failed to clear pending oauth request")
	}
	m.update(func() { m.errFlag = true })
}

func (m *Manager) auditLoginFailure(ctx context.Context, reason string) {
	audit.Log(ctx, audit.Event{
		Type:       audit.EventLoginFailure,
		ProfileID:  m.profileID,
		InstanceID: m.instanceID,
		Details:    map[string]interface{}{"reason": reason},
	})
}

func (m *Manager) publish(ctx context.Context, typ model.BroadcastType) {
	if m.bus == nil {
		return
	}
	msg := events.Message{
		SourceID:         config.BroadcastSourceID,
		SourceInstanceID: m.instanceID,
		Type:             typ,
	}
	if err := m.bus.Publish(ctx, m.profileID, msg); err != nil {
		log.Error().Err(err).Str("profileId", m.profileID).Str("type", string(typ)).Msg("failed to broadcast auth event")
	}
}

func (m *Manager) listen(sub *events.Subscriber) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-sub.Done:
			return
		case msg := <-sub.Messages:
			m.handleBroadcast(msg)
		}
	}
}

func (m *Manager) handleBroadcast(msg events.Message) {
	if msg.SourceID != config.BroadcastSourceID || msg.SourceInstanceID == m.instanceID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.TokenExchangeTimeout)
	defer cancel()

	switch msg.Type {
	case model.BroadcastLogin:
		_ = m.dispatch(ctx, EventBroadcastLogin, nil)
	case model.BroadcastLogout:
		_ = m.dispatch(ctx, EventBroadcastLogout, nil)
	}
}

func (m *Manager) setPhase(p Phase) {
	m.update(func() { m.phase = p })
}

// update applies fn under the state lock and notifies listeners if the
// snapshot changed.
func (m *Manager) update(fn func()) {
	m.mu.Lock()
	before := m.snapshotLocked()
	fn()
	after := m.snapshotLocked()
	var listeners []func(Snapshot)
	if before != after {
		listeners = make([]func(Snapshot), 0, len(m.listeners))
		for _, l := range m.listeners {
			listeners = append(listeners, l.fn)
		}
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(after)
	}
}
