package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/gateway"
	"github.com/odyssey-erp/odyssey-gateway/internal/observability"
	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
	"github.com/odyssey-erp/odyssey-gateway/internal/webhook"
	"github.com/odyssey-erp/odyssey-gateway/jobs"
)

// OperatorPrefix is reserved for the gateway's own endpoints and is never
// proxied.
const OperatorPrefix = "/_gateway"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	AuthHandler    *auth.Handler
	RoutesHandler  *routes.Handler
	WebhookHandler *webhook.Handler
	JobHandler     *jobs.Handler
	Operators      gateway.Middleware
	Gateway        http.Handler
}

// NewRouter constructs the chi.Router with gateway defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Route(OperatorPrefix, func(r chi.Router) {
		r.Use(chimw.Logger)

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if params.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}

		r.Group(func(r chi.Router) {
			r.Use(params.Operators.Authenticate, params.Operators.RequireStaff, params.Operators.Audit)
			if params.RoutesHandler != nil {
				r.Route("/routes", params.RoutesHandler.MountRoutes)
			}
			if params.WebhookHandler != nil {
				r.Route("/webhooks", params.WebhookHandler.MountRoutes)
			}
		})
	})

	if params.Gateway != nil {
		r.Handle("/*", params.Gateway)
	}
	return r
}
