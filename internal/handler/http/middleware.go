package http

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/utafrali/storefront-cart/pkg/httputil"
	"github.com/utafrali/storefront-cart/pkg/logger"
	"github.com/utafrali/storefront-cart/pkg/middleware"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey string

const clientIDKey contextKey = "client_id"

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ClientIDFromHeader reads the X-Client-ID header set by the storefront and
// stores it in the request context. Carts are keyed by client, so requests
// without one are rejected.
func ClientIDFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.ClientIDHeader)
		if id == "" {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: middleware.ClientIDHeader + " header is required"},
			})
			return
		}
		if !clientIDPattern.MatchString(id) {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: middleware.ClientIDHeader + " header is malformed"},
			})
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, id)
		ctx = logger.WithClientID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIDFromContext returns the id stored by ClientIDFromHeader.
func clientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	return id, ok && id != ""
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
