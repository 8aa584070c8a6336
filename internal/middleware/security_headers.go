package middleware

import (
	"net/http"
	"strings"
)

type SecurityHeadersMiddleware struct {
	isProduction   bool
	frameAncestors []string
}

// NewSecurityHeadersMiddleware forbids framing unless frameAncestors names the
// dashboards allowed to embed the card.
func NewSecurityHeadersMiddleware(isProduction bool, frameAncestors ...string) *SecurityHeadersMiddleware {
	return &SecurityHeadersMiddleware{isProduction: isProduction, frameAncestors: frameAncestors}
}

func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	ancestors := "'none'"
	if len(m.frameAncestors) > 0 {
		ancestors = strings.Join(m.frameAncestors, " ")
	}
	csp := "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; " +
		"font-src 'self'; " +
		"connect-src 'self'; " +
		"frame-ancestors " + ancestors + "; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if len(m.frameAncestors) == 0 {
			w.Header().Set("X-Frame-Options", "DENY")
		}
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if m.isProduction {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		w.Header().Set("Content-Security-Policy", csp)

		next.ServeHTTP(w, r)
	})
}
