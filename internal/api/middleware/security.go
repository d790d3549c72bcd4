package middleware

import "net/http"

// apiHeaders are sent on every response. The API serves JSON and websocket
// upgrades only, so the content policy forbids everything else.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", "default-src 'none'; connect-src 'self'; frame-ancestors 'none'"},
}

const hsts = "max-age=31536000; includeSubDomains"

// SecurityHeaders sets apiHeaders, plus HSTS when the request came in over
// TLS directly or through a proxy reporting X-Forwarded-Proto: https.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range apiHeaders {
			h.Set(kv[0], kv[1])
		}
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			h.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
