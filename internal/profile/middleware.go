package profile

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
)

// DefaultHeader carries the encoded context on forwarded requests.
const DefaultHeader = "X-Gateway-Profile"

type contextKey struct{}

// WithContext stores a decoded context on ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the decoded context stored by Middleware.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(contextKey{}).(Context)
	return c, ok
}

// Middleware decodes the forwarded context for services behind the gateway.
// A missing header passes through; a corrupt one is an internal error.
func Middleware(header string, logger *slog.Logger) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultHeader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := r.Header.Get(header)
			if value == "" {
				next.ServeHTTP(w, r)
				return
			}
			c, err := Decode(value)
			if err != nil {
				logger.Error("decode forwarded profile", slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), c)))
		})
	}
}
