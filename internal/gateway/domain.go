// Package gateway authenticates, authorizes and forwards inbound requests.
package gateway

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived      State = "received"
	StateAuthenticated State = "authenticated"
	StateMatched       State = "matched"
	StateAuthorized    State = "authorized"
	StateForwarded     State = "forwarded"
	StateRejected      State = "rejected"
)

// Reason classifies a rejection.
type Reason string

const (
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonForbidden       Reason = "forbidden"
	ReasonRouteNotFound   Reason = "route_not_found"
	ReasonDecodeError     Reason = "decode_error"
	ReasonInternal        Reason = "internal"
)

// HTTPStatus maps a reason to the response status.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonUnauthenticated:
		return http.StatusUnauthorized
	case ReasonForbidden:
		return http.StatusForbidden
	case ReasonRouteNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Title is the problem title for a reason.
func (r Reason) Title() string {
	switch r {
	case ReasonUnauthenticated:
		return "Unauthorized"
	case ReasonForbidden:
		return "Forbidden"
	case ReasonRouteNotFound:
		return "Not Found"
	default:
		return "Internal Error"
	}
}

var (
	ErrForbidden     = errors.New("gateway: forbidden")
	ErrAnonymous     = errors.New("gateway: credential required")
	ErrInvalidTarget = errors.New("gateway: invalid account id")
)

// HeaderAccountID narrows authorization to a single account.
const HeaderAccountID = "X-Account-Id"

// Request is the transport-independent view of an inbound call.
type Request struct {
	Method     string
	Path       string
	Credential auth.Credential
	// AccountID is the raw X-Account-Id value, if any.
	AccountID string
	RequestID string
}

// Forward instructs the transport to proxy the call.
type Forward struct {
	Route         routes.Route
	Target        *url.URL
	Remainder     string
	ContextHeader string
	Principal     identity.Principal
	AccountID     *uuid.UUID
}

// Reject terminates the request.
type Reject struct {
	Reason     Reason
	HTTPStatus int
	Err        error
}

// Decision is the terminal outcome of Dispatch. Exactly one of Forward and
// Reject is set.
type Decision struct {
	State   State
	Service string
	Forward *Forward
	Reject  *Reject
	Trail   []State
}

// Forwarded reports whether the decision is a forward.
func (d Decision) Forwarded() bool {
	return d.Forward != nil
}

// Outcome is the metric label for the decision.
func (d Decision) Outcome() string {
	if d.Reject != nil {
		return string(d.Reject.Reason)
	}
	return string(StateForwarded)
}
