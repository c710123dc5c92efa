package middleware

import "net/http"

// SecurityHeaders returns middleware that sets HTTP security headers on every
// response. The server only returns TwiML, JSON and audio, so the content
// policy forbids everything a browser might otherwise load. When tlsEnabled
// is true (the public base URL is https), Strict-Transport-Security is
// included.
func SecurityHeaders(tlsEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")

			if tlsEnabled {
				// 2 years.
				h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
