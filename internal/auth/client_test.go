package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var testScopes = []string{"url:GET|/api/v1/users/:user_id/todo", "url:GET|/api/v1/planner/items"}

func TestNewPKCE(t *testing.T) {
	p, err := NewPKCE()
	require.NoError(t, err)

	assert.Len(t, p.Verifier, 128)
	assert.Len(t, p.State, 32)

	sum := sha256.Sum256([]byte(p.Verifier))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), p.Challenge)
	assert.NotContains(t, p.Challenge, "=")

	other, err := NewPKCE()
	require.NoError(t, err)
	assert.NotEqual(t, p.Verifier, other.Verifier)
	assert.NotEqual(t, p.State, other.State)
}

func TestOAuthClient_AuthCodeURL(t *testing.T) {
	c := NewOAuthClient("https://canvas.example.edu/", "10000000000001", testScopes, nil)

	raw := c.AuthCodeURL("state-123", "https://cards.example.edu/v1/profiles/user-1/", "verifier-abc")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "canvas.example.edu", u.Host)
	assert.Equal(t, "/login/oauth2/auth", u.Path)

	q := u.Query()
	assert.Equal(t, "10000000000001", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://cards.example.edu/v1/profiles/user-1/", q.Get("redirect_uri"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, strings.Join(testScopes, " "), q.Get("scope"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier("verifier-abc"), q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
}

func newTokenServer(t *testing.T, handle func(w http.ResponseWriter, form url.Values)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login/oauth2/token", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		handle(w, r.PostForm)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOAuthClient_Exchange(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		assert.Equal(t, "authorization_code", form.Get("grant_type"))
		assert.Equal(t, "code-1", form.Get("code"))
		assert.Equal(t, "verifier-abc", form.Get("code_verifier"))
		assert.Equal(t, "10000000000001", form.Get("client_id"))
		assert.Equal(t, "https://cards.example.edu/v1/profiles/user-1/", form.Get("redirect_uri"))
		assert.Empty(t, form.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok1","refresh_token":"ref1","expires_in":3600,"token_type":"Bearer"}`))
	})

	c := NewOAuthClient(server.URL, "10000000000001", testScopes, server.Client())
	tok, err := c.Exchange(context.Background(), "code-1", "verifier-abc", "https://cards.example.edu/v1/profiles/user-1/")
	require.NoError(t, err)

	assert.Equal(t, "tok1", tok.AccessToken)
	assert.Equal(t, "ref1", tok.RefreshToken)
	assert.Equal(t, time.Hour, tok.ExpiresIn)
}

func TestOAuthClient_ExchangeFailure(t *testing.T) {
	server := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"authorization code expired"}`))
	})

	c := NewOAuthClient(server.URL, "10000000000001", testScopes, server.Client())
	_, err := c.Exchange(context.Background(), "stale", "verifier", "https://cards.example.edu/")
	require.Error(t, err)

	var re *oauth2.RetrieveError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusBadRequest, re.Response.StatusCode)
	assert.Equal(t, "invalid_grant", re.ErrorCode)
}

func TestOAuthClient_Refresh(t *testing.T) {
	t.Run("sends refresh grant", func(t *testing.T) {
		server := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
			assert.Equal(t, "refresh_token", form.Get("grant_type"))
			assert.Equal(t, "ref1", form.Get("refresh_token"))
			assert.Equal(t, "10000000000001", form.Get("client_id"))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok2","expires_in":3600}`))
		})

		c := NewOAuthClient(server.URL, "10000000000001", testScopes, server.Client())
		tok, err := c.Refresh(context.Background(), "ref1")
		require.NoError(t, err)
		assert.Equal(t, "tok2", tok.AccessToken)
		assert.Equal(t, time.Hour, tok.ExpiresIn)
	})

	t.Run("revoked grant fails", func(t *testing.T) {
		server := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		})

		c := NewOAuthClient(server.URL, "10000000000001", testScopes, server.Client())
		_, err := c.Refresh(context.Background(), "revoked")
		assert.Error(t, err)
	})
}

func TestExpiresIn(t *testing.T) {
	t.Run("reads raw expires_in", func(t *testing.T) {
		tok := (&oauth2.Token{}).WithExtra(map[string]interface{}{"expires_in": float64(3600)})
		assert.Equal(t, time.Hour, expiresIn(tok))
	})

	t.Run("reads string expires_in", func(t *testing.T) {
		tok := (&oauth2.Token{}).WithExtra(map[string]interface{}{"expires_in": "120"})
		assert.Equal(t, 2*time.Minute, expiresIn(tok))
	})

	t.Run("falls back to ExpiresIn field", func(t *testing.T) {
		assert.Equal(t, time.Minute, expiresIn(&oauth2.Token{ExpiresIn: 60}))
	})

	t.Run("zero without any expiry", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), expiresIn(&oauth2.Token{}))
	})
}
