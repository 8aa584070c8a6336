package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/card"
	"github.com/canvastodo/card-server-go/internal/config"
	apperrors "github.com/canvastodo/card-server-go/internal/errors"
	"github.com/canvastodo/card-server-go/internal/httputil"
	"github.com/canvastodo/card-server-go/internal/middleware"
	"github.com/canvastodo/card-server-go/internal/model"
	"github.com/canvastodo/card-server-go/internal/todo"
	"github.com/canvastodo/card-server-go/internal/util"
)

// CardHandler serves one profile's card under /v1/profiles/{profileID}.
type CardHandler struct {
	host     *card.Host
	profiles *middleware.ProfileAuthMiddleware
}

func NewCardHandler(host *card.Host, profiles *middleware.ProfileAuthMiddleware) *CardHandler {
	return &CardHandler{host: host, profiles: profiles}
}

func (h *CardHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requireProfile)
	r.Use(h.profiles.Handler)

	r.Get("/events", h.Events)

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

		r.Get("/", h.Show)
		r.Delete("/", h.Unmount)
		r.Get("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/tasks", h.Tasks)
		r.Post("/tasks/refresh", h.Refresh)
		r.Post("/tasks/{taskID}/toggle", h.Toggle)
		r.Put("/visibility", h.Visibility)
	})

	return r
}

func requireProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !util.IsValidProfileID(chi.URLParam(r, middleware.ProfileParam)) {
			httputil.WriteError(w, apperrors.InvalidInput("profileId", "must be 1-128 letters, digits or ._@-"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// profileID is the profile the request's token was verified for.
func profileID(r *http.Request) string {
	return middleware.GetProfile(r.Context())
}

// mounted returns the profile's card, mounting it on first use.
func (h *CardHandler) mounted(r *http.Request) (*card.Card, error) {
	return h.host.Mount(r.Context(), profileID(r), nil)
}

// GET /v1/profiles/{profileID}/
//
// Canvas redirects here with code and state, or with error. The callback is
// consumed and the browser is sent to the same URL without its query.
func (h *CardHandler) Show(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := &model.OAuthCallback{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	isCallback := cb.Code != "" || cb.State != "" || cb.Error != ""
	if !isCallback {
		cb = nil
	}

	c, err := h.host.Mount(r.Context(), profileID(r), cb)
	if isCallback {
		if err != nil {
			log.Warn().Err(err).Str("profileId", profileID(r)).Msg("oauth callback rejected")
		}
		http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c.Snapshot())
}

// DELETE /v1/profiles/{profileID}/
func (h *CardHandler) Unmount(w http.ResponseWriter, r *http.Request) {
	if !h.host.Unmount(profileID(r)) {
		httputil.WriteError(w, apperrors.NotFound("Card"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/profiles/{profileID}/login
func (h *CardHandler) Login(w http.ResponseWriter, r *http.Request) {
	c, err := h.mounted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	authURL, err := c.Login(r.Context())
	if err != nil {
		log.Error().Err(err).Str("profileId", profileID(r)).Msg("failed to start canvas login")
		httputil.WriteError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// POST /v1/profiles/{profileID}/logout
func (h *CardHandler) Logout(w http.ResponseWriter, r *http.Request) {
	c, err := h.mounted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := c.Logout(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// GET /v1/profiles/{profileID}/tasks
func (h *CardHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	c, err := h.mounted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot().Tasks)
}

// POST /v1/profiles/{profileID}/tasks/refresh
//
// Fetch failures are reported through the snapshot's error flag.
func (h *CardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := h.signedIn(w, r)
	if !ok {
		return
	}
	if err := c.Refresh(r.Context()); err != nil {
		log.Warn().Err(err).Str("profileId", profileID(r)).Msg("requested refresh failed")
	}
	writeJSON(w, http.StatusOK, c.Snapshot().Tasks)
}

// POST /v1/profiles/{profileID}/tasks/{taskID}/toggle
func (h *CardHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !util.IsValidTaskID(taskID) {
		httputil.WriteError(w, apperrors.InvalidInput("taskId", "unknown task id format"))
		return
	}

	c, ok := h.signedIn(w, r)
	if !ok {
		return
	}
	err := c.ToggleComplete(r.Context(), taskID)
	refused := apperrors.HasCode(err, apperrors.ErrCodeUnsupportedMutation)
	if err != nil && !refused {
		httputil.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, todo.ToggleResult{Snapshot: c.Snapshot().Tasks, Refused: refused})
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

// PUT /v1/profiles/{profileID}/visibility
func (h *CardHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, apperrors.InvalidInput("body", "expected {\"visible\": bool}"))
		return
	}
	if req.Visible == nil {
		httputil.WriteError(w, apperrors.MissingRequired("visible"))
		return
	}

	c, err := h.mounted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c.SetVisible(*req.Visible)
	writeJSON(w, http.StatusOK, c.Snapshot().Tasks)
}

func (h *CardHandler) signedIn(w http.ResponseWriter, r *http.Request) (*card.Card, bool) {
	c, err := h.mounted(r)
	if err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	if !c.Snapshot().Auth.LoggedIn {
		httputil.WriteError(w, apperrors.NotAuthenticated())
		return nil, false
	}
	return c, true
}
