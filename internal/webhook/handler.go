package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
)

// HeaderIdempotencyKey deduplicates event submissions.
const HeaderIdempotencyKey = "Idempotency-Key"

const idempotencyModule = "webhook_events"

// IdempotencyChecker records processed request keys.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, key, module, fingerprint string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes operator endpoints for webhook propagations.
type Handler struct {
	service     *Service
	idempotency IdempotencyChecker
	logger      *slog.Logger
	validator   *validator.Validate
}

// NewHandler constructs a Handler. idempotency may be nil.
func NewHandler(service *Service, idempotency IdempotencyChecker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, idempotency: idempotency, logger: logger, validator: validator.New()}
}

// MountRoutes registers webhook routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/failed", h.listFailed)
	r.Get("/propagations", h.list)
	r.Post("/{id}/retry", h.retry)
	r.Post("/events", h.enqueue)
}

type listResponse struct {
	Items      []Propagation     `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listFailed(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, StatusFailed)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	status := Status(r.URL.Query().Get("status"))
	switch status {
	case "", StatusPending, StatusDelivered, StatusFailed:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status")
		return
	}
	h.respondList(w, r, status)
}

func (h *Handler) respondList(w http.ResponseWriter, r *http.Request, status Status) {
	page, perPage := shared.PageFromRequest(r)
	filter := Filter{Status: status, Trigger: Trigger(r.URL.Query().Get("trigger")), Page: page, PerPage: perPage}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list propagations", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if items == nil {
		items = []Propagation{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid propagation id")
		return
	}
	switch err := h.service.Retry(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "propagation not found")
	case errors.Is(err, ErrNotRetryable):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("retry propagation", slog.String("propagation_id", id.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

type enqueueRequest struct {
	Trigger string `json:"trigger" validate:"required"`
	Payload string `json:"payload" validate:"required"`
}

type enqueueResponse struct {
	PayloadID string `json:"payload_id"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	trigger := Trigger(body.Trigger)
	if !trigger.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown trigger")
		return
	}

	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.idempotency != nil {
		fingerprint := PayloadID(trigger, body.Payload)
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule, fingerprint); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.JSON(w, http.StatusOK, enqueueResponse{PayloadID: fingerprint})
				return
			}
			if errors.Is(err, shared.ErrIdempotencyKeyReused) {
				httpx.Problem(w, http.StatusConflict, "Conflict", "idempotency key already used for a different event")
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}

	payloadID, err := h.service.Enqueue(r.Context(), trigger, body.Payload)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.logger.Error("enqueue webhook event", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, enqueueResponse{PayloadID: payloadID})
}
