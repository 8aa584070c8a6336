package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/audit"
	apperrors "github.com/canvastodo/card-server-go/internal/errors"
	"github.com/canvastodo/card-server-go/internal/httputil"
	"github.com/canvastodo/card-server-go/internal/util"
)

const (
	ProfileCookieName = "card_profile"
	ProfileTokenParam = "token"
)

type contextKey string

const ProfileContextKey contextKey = "profile"

// GetProfile returns the profile the request's credential was issued for.
func GetProfile(ctx context.Context) string {
	if profileID, ok := ctx.Value(ProfileContextKey).(string); ok {
		return profileID
	}
	return ""
}

// ProfileAuthMiddleware binds a request to the profile named by its signed
// profile token. The Experience host signs tokens with the shared key and
// hands them to the user's browser; only that browser can open the card.
//
// A token passed as ?token= is traded for an HttpOnly cookie scoped to the
// card path, so the Canvas redirect back and the event stream carry it too.
type ProfileAuthMiddleware struct {
	secret       string
	isProduction bool
	now          func() time.Time
}

func NewProfileAuthMiddleware(secret string, isProduction bool) *ProfileAuthMiddleware {
	return &ProfileAuthMiddleware{secret: secret, isProduction: isProduction, now: time.Now}
}

func (m *ProfileAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := profileFromRequest(r)

		token, fromQuery := extractProfileToken(r)
		if token == "" {
			m.deny(w, r, http.StatusUnauthorized, apperrors.Unauthorized("Missing profile token"))
			return
		}

		profileID, expiresAt, err := util.VerifyProfileToken(m.secret, token, m.now())
		if err != nil {
			log.Warn().Err(err).Str("profileId", target).Msg("profile auth: invalid token")
			m.deny(w, r, http.StatusUnauthorized, apperrors.Unauthorized("Invalid profile token"))
			return
		}
		if profileID != target {
			m.deny(w, r, http.StatusForbidden, apperrors.Forbidden("Profile token does not grant this card"))
			return
		}

		if fromQuery {
			m.setProfileCookie(w, target, token, expiresAt)
		}

		ctx := context.WithValue(r.Context(), ProfileContextKey, profileID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *ProfileAuthMiddleware) deny(w http.ResponseWriter, r *http.Request, status int, err *apperrors.AppError) {
	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventProfileDenied,
		ProfileID: profileFromRequest(r),
		Details:   map[string]interface{}{"reason": err.Message},
	})
	httputil.WriteErrorWithStatus(w, status, err)
}

func (m *ProfileAuthMiddleware) setProfileCookie(w http.ResponseWriter, profileID, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookieName,
		Value:    token,
		Path:     profileCookiePath(profileID),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

func profileCookiePath(profileID string) string {
	return "/v1/profiles/" + url.PathEscape(profileID) + "/"
}

// extractProfileToken prefers the query so a freshly issued token replaces a stale cookie.
func extractProfileToken(r *http.Request) (string, bool) {
	if token := r.URL.Query().Get(ProfileTokenParam); token != "" {
		return token, true
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer "), false
	}

	if cookie, err := r.Cookie(ProfileCookieName); err == nil {
		return cookie.Value, false
	}
	return "", false
}
