package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/canvastodo/card-server-go/internal/config"
	"github.com/canvastodo/card-server-go/internal/model"
)

// TokenClient talks to the Canvas OAuth2 endpoints.
type TokenClient interface {
	AuthCodeURL(state, redirectURI, verifier string) string
	Exchange(ctx context.Context, code, verifier, redirectURI string) (*model.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error)
}

// OAuthClient is the public-client (no secret) PKCE flow against
// {base}/login/oauth2/auth and {base}/login/oauth2/token.
type OAuthClient struct {
	cfg        oauth2.Config
	httpClient *http.Client
}

var _ TokenClient = (*OAuthClient)(nil)

func NewOAuthClient(canvasBaseURL, clientID string, scopes []string, httpClient *http.Client) *OAuthClient {
	base := strings.TrimRight(canvasBaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.TokenExchangeTimeout}
	}
	return &OAuthClient{
		cfg: oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/login/oauth2/auth",
				TokenURL:  base + "/login/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: scopes,
		},
		httpClient: httpClient,
	}
}

func (c *OAuthClient) AuthCodeURL(state, redirectURI, verifier string) string {
	cfg := c.cfg
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (c *OAuthClient) Exchange(ctx context.Context, code, verifier, redirectURI string) (*model.TokenResponse, error) {
	cfg := c.cfg
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(c.context(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, err
	}
	return toTokenResponse(tok), nil
}

func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	tok, err := c.cfg.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	return toTokenResponse(tok), nil
}

func (c *OAuthClient) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func toTokenResponse(tok *oauth2.Token) *model.TokenResponse {
	return &model.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok),
	}
}

// expiresIn prefers the lifetime Canvas reported over the library's computed expiry.
func expiresIn(tok *oauth2.Token) time.Duration {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry).Round(time.Second)
	}
	return 0
}

// logTokenError attaches what the token endpoint said, if anything.
func logTokenError(e *zerolog.Event, err error) *zerolog.Event {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			e = e.Int("status", re.Response.StatusCode)
		}
		if re.ErrorCode != "" {
			e = e.Str("oauthError", re.ErrorCode)
		}
		if len(re.Body) > 0 {
			e = e.Str("body", truncate(string(re.Body), 512))
		}
	}
	return e.Err(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
