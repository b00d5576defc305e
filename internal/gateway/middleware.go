package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// Middleware guards the gateway's own operator endpoints.
type Middleware struct {
	Verifier      auth.Verifier
	SessionCookie string
	Auditor       shared.Auditor
	Logger        *slog.Logger
}

// Authenticate resolves the request credential and stores the principal in
// the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred := auth.CredentialFromRequest(r, m.SessionCookie)
		if cred.IsZero() {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "credential required")
			return
		}
		principal, err := m.Verifier.Resolve(r.Context(), cred)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid credential")
				return
			}
			if m.Logger != nil {
				m.Logger.Error("operator authenticate", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireStaff ensures the authenticated principal is staff.
func (m Middleware) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		if !principal.IsStaff {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "staff only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Audit records mutating operator calls once the response status is known.
// Failures to write the audit row are logged and never change the response.
func (m Middleware) Audit(next http.Handler) http.Handler {
	if m.Auditor == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := shared.AuditLog{
			Action:   r.Method + " " + r.URL.Path,
			Entity:   "operator",
			EntityID: r.URL.Path,
			Meta: map[string]any{
				"status":     ww.Status(),
				"request_id": chimw.GetReqID(r.Context()),
			},
		}
		if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
			entry.ActorID = principal.ID
		}
		if err := m.Auditor.Record(r.Context(), entry); err != nil && m.Logger != nil {
			m.Logger.Warn("operator audit", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
	})
}
