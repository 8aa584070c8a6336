package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCSRFMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/v1/profiles/{profileID}", func(r chi.Router) {
		r.Use(NewCSRFMiddleware(false).Handler)
		r.Get("/", okHandler)
		r.Post("/logout", okHandler)
	})

	t.Run("safe request issues the cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/profiles/user-1/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, CSRFCookieName, cookies[0].Name)
		assert.Len(t, cookies[0].Value, 64)
		assert.False(t, cookies[0].HttpOnly)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/profiles/user-1/logout", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "token-a"})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "Missing CSRF token")
	})

	t.Run("rejects mismatched header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/profiles/user-1/logout", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "token-a"})
		req.Header.Set(CSRFHeaderName, "token-b")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "FORBIDDEN")
	})

	t.Run("accepts matching header", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/v1/profiles/user-1/logout", nil)
		req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "token-a"})
		req.Header.Set(CSRFHeaderName, "token-a")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewSecurityHeadersMiddleware(false).Handler(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
		assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	})

	t.Run("production adds HSTS", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewSecurityHeadersMiddleware(true).Handler(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	})

	t.Run("allows listed frame ancestors", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw := NewSecurityHeadersMiddleware(false, "https://dashboard.example.edu")
		mw.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

		assert.Empty(t, rec.Header().Get("X-Frame-Options"))
		assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors https://dashboard.example.edu;")
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	mw := NewBodyLimitMiddleware(16)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("PUT", "/visibility", strings.NewReader(`{"visible":false,"padding":"xxxxxxxx"}`))
	mw.Handler(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("PUT", "/visibility", strings.NewReader(`{"visible":true}`))
	mw.Handler(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestLogger(t *testing.T) {
	handler := chimiddleware.RequestID(RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/profiles/user-1/tasks", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
