package gateway

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
)

// Handler serves every proxied request.
type Handler struct {
	dispatcher    *Dispatcher
	forwarder     *Forwarder
	sessionCookie string
}

// NewHandler constructs a Handler.
func NewHandler(dispatcher *Dispatcher, forwarder *Forwarder, sessionCookie string) *Handler {
	return &Handler{dispatcher: dispatcher, forwarder: forwarder, sessionCookie: sessionCookie}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := RequestFromHTTP(r, h.sessionCookie)
	decision := h.dispatcher.Dispatch(r.Context(), req)
	if decision.Reject != nil {
		if decision.Reject.Reason == ReasonUnauthenticated {
			w.Header().Set("WWW-Authenticate", `Bearer realm="gateway"`)
		}
		detail := ""
		if decision.Reject.HTTPStatus < http.StatusInternalServerError && decision.Reject.Err != nil {
			detail = decision.Reject.Err.Error()
		}
		httpx.Problem(w, decision.Reject.HTTPStatus, decision.Reject.Reason.Title(), detail)
		return
	}
	h.forwarder.Forward(w, r, decision.Forward, req.RequestID)
}

// RequestFromHTTP builds a dispatch request. The path keeps the client's
// escaping and query string.
func RequestFromHTTP(r *http.Request, sessionCookie string) Request {
	path := r.RequestURI
	if !strings.HasPrefix(path, "/") {
		path = r.URL.RequestURI()
	}
	return Request{
		Method:     r.Method,
		Path:       path,
		Credential: auth.CredentialFromRequest(r, sessionCookie),
		AccountID:  strings.TrimSpace(r.Header.Get(HeaderAccountID)),
		RequestID:  middleware.GetReqID(r.Context()),
	}
}
