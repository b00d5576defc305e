package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
)

// Handler exchanges bearer tokens for gateway sessions.
type Handler struct {
	logger     *slog.Logger
	verifier   Verifier
	sessions   *SessionStore
	cookieName string
	secure     bool
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, verifier Verifier, sessions *SessionStore, cookieName string, secure bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	return &Handler{logger: logger, verifier: verifier, sessions: sessions, cookieName: cookieName, secure: secure}
}

// MountRoutes registers session routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/session", h.handleCreate)
	r.Delete("/session", h.handleDestroy)
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	cred := CredentialFromRequest(r, h.cookieName)
	if cred.Kind != CredentialBearer {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required")
		return
	}
	principal, err := h.verifier.Resolve(r.Context(), cred)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid bearer token")
			return
		}
		h.logger.Error("resolve bearer for session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	token, err := h.sessions.Create(r.Context(), principal)
	if err != nil {
		h.logger.Error("create session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	expiresAt := time.Now().Add(h.sessions.TTL()).UTC()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  expiresAt,
	})
	httpx.JSON(w, http.StatusCreated, sessionResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *Handler) handleDestroy(w http.ResponseWriter, r *http.Request) {
	cred := CredentialFromRequest(r, h.cookieName)
	if cred.Kind == CredentialSession {
		if err := h.sessions.Delete(r.Context(), cred.Token); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
