// Package routes matches inbound paths to downstream services.
package routes

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Type is a route's access policy.
type Type string

const (
	Public    Type = "public"
	Protected Type = "protected"
)

var (
	// ErrNotFound indicates no route serves the path's first segment.
	ErrNotFound = errors.New("routes: not found")
	// ErrInvalidRoute indicates a route definition failed validation.
	ErrInvalidRoute = errors.New("routes: invalid route")
)

// HealthCheck configures the downstream probe.
type HealthCheck struct {
	Path           string `json:"path" yaml:"path"`
	AcceptedStatus []int  `json:"accepted_status" yaml:"accepted_status" validate:"dive,min=100,max=599"`
}

// Accepts reports whether a probe status counts as healthy. Any 2xx is
// accepted when no codes are configured.
func (h HealthCheck) Accepts(status int) bool {
	if len(h.AcceptedStatus) == 0 {
		return status >= 200 && status < 300
	}
	for _, code := range h.AcceptedStatus {
		if code == status {
			return true
		}
	}
	return false
}

// Route maps a service name (the first path segment) to a downstream.
type Route struct {
	ID            uuid.UUID   `json:"id" yaml:"id"`
	Service       string      `json:"service" yaml:"service" validate:"required,excludesall=/?#"`
	Type          Type        `json:"type" yaml:"type" validate:"required,oneof=public protected"`
	SecurityGroup string      `json:"security_group,omitempty" yaml:"security_group"`
	Upstream      string      `json:"upstream" yaml:"upstream" validate:"required,url"`
	Health        HealthCheck `json:"health" yaml:"health"`
}

// RequiredPolicy returns the access policy of a route.
func RequiredPolicy(r Route) (Type, string) {
	return r.Type, r.SecurityGroup
}

// Target joins the upstream base with the forwarded remainder. The remainder
// is appended verbatim.
func (r Route) Target(remainder string) (*url.URL, error) {
	base := strings.TrimRight(r.Upstream, "/")
	if remainder == "" {
		remainder = "/"
	} else if remainder[0] == '?' {
		remainder = "/" + remainder
	}
	target, err := url.Parse(base + remainder)
	if err != nil {
		return nil, fmt.Errorf("routes: target for %s: %w", r.Service, err)
	}
	return target, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structural constraints of a route definition.
func (r Route) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidRoute, r.Service, err)
	}
	if r.Type == Public && r.SecurityGroup != "" {
		return fmt.Errorf("%w %q: public route cannot require a security group", ErrInvalidRoute, r.Service)
	}
	return nil
}
