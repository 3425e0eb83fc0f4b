package middleware

import (
	"net/http"
	"slices"
)

// CorsMiddleware wraps handler with permissive-by-allowlist CORS headers, the
// same shape the gateway needs for browser-based OpenAI clients hitting a
// localhost server. An empty allowedOrigins means "allow the request's own
// Origin", matching a typical localhost dev-tool default.
func CorsMiddleware(allowedOrigins []string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		handler.ServeHTTP(w, r)
	})
}
