package model

import "time"

// Session is the persisted relationship with Canvas for one Experience user.
// The zero value is the logged-out session.
type Session struct {
	AccessToken          string     `json:"accessToken,omitempty"`
	RefreshToken         string     `json:"refreshToken,omitempty"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty"`
	LastExperienceUserID string     `json:"lastExperienceUserId,omitempty"`
}

func (s *Session) IsEmpty() bool {
	return s == nil || s.AccessToken == ""
}

// Valid reports whether the session satisfies the stored-session invariant:
// an access token always comes with an expiry.
func (s *Session) Valid() bool {
	return !s.IsEmpty() && s.ExpiresAt != nil
}

// FreshAt reports whether the access token is usable at now, i.e. more than
// skew remains before it expires.
func (s *Session) FreshAt(now time.Time, skew time.Duration) bool {
	if !s.Valid() {
		return false
	}
	return s.ExpiresAt.Sub(now) > skew
}

// ExpiredAt reports whether the access token is past its expiry at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	if !s.Valid() {
		return true
	}
	return !now.Before(*s.ExpiresAt)
}

// BelongsTo reports whether the session may be used for the given Experience user.
// Sessions saved without a user are not bound to one.
func (s *Session) BelongsTo(experienceUserID string) bool {
	return s.LastExperienceUserID == "" || experienceUserID == "" || s.LastExperienceUserID == experienceUserID
}
