package model

import "time"

// PendingAuthRequest is the PKCE handshake data of a single login attempt.
type PendingAuthRequest struct {
	CodeVerifier string    `json:"codeVerifier"`
	State        string    `json:"state"`
	RedirectURI  string    `json:"redirectUri"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OAuthCallback carries the query parameters Canvas appends to the redirect URI.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Complete reports whether the callback carries both code and state.
func (c *OAuthCallback) Complete() bool {
	return c != nil && c.Code != "" && c.State != ""
}

// TokenResponse is the result of an authorization_code or refresh_token grant.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}
