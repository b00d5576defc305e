package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
)

// Handler exposes operator endpoints for the route table.
type Handler struct {
	table    *Table
	reloader *Reloader
	prober   *Prober
	notify   func(ctx context.Context) error
	logger   *slog.Logger
}

// NewHandler constructs a Handler. notify, when set, tells the other gateway
// instances to reload after a local reload succeeds.
func NewHandler(table *Table, reloader *Reloader, prober *Prober, notify func(ctx context.Context) error, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil {
		prober = NewProber(nil, 0)
	}
	return &Handler{table: table, reloader: reloader, prober: prober, notify: notify, logger: logger}
}

// MountRoutes registers route table routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/health", h.health)
	r.Post("/reload", h.reload)
}

type tableResponse struct {
	Version  uint64    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	Routes   []Route   `json:"routes"`
}

func snapshotResponse(s *Snapshot) tableResponse {
	return tableResponse{Version: s.Version(), LoadedAt: s.LoadedAt(), Routes: s.Routes()}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, snapshotResponse(h.table.Snapshot()))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	results := h.prober.Probe(r.Context(), h.table.Snapshot())
	status := http.StatusOK
	for _, res := range results {
		if !res.Healthy {
			status = http.StatusServiceUnavailable
			break
		}
	}
	httpx.JSON(w, status, map[string]any{"services": results})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "route reloading disabled")
		return
	}
	snapshot, err := h.reloader.Reload(r.Context())
	if err != nil {
		h.logger.Error("reload routes", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Reload Failed", "route source unavailable; previous table kept")
		return
	}
	if h.notify != nil {
		if err := h.notify(r.Context()); err != nil {
			h.logger.Warn("notify route reload", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, snapshotResponse(snapshot))
}
