package middleware

import "net/http"

// CacheControl sets the Cache-Control header on every response to value.
func CacheControl(value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", value)
			next.ServeHTTP(w, r)
		})
	}
}

// NoStore keeps per-client responses out of browser and shared caches.
func NoStore(next http.Handler) http.Handler {
	return CacheControl("no-store")(next)
}
