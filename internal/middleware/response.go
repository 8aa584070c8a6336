package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ProfileParam is the URL parameter naming the card's profile.
const ProfileParam = "profileID"

// profileFromRequest returns the profile the request targets, if the route has one.
func profileFromRequest(r *http.Request) string {
	return chi.URLParam(r, ProfileParam)
}
