// Package identity describes the authenticated caller seen by the gateway.
package identity

import "github.com/google/uuid"

// Kind distinguishes human users from service callers.
type Kind string

const (
	KindUser    Kind = "user"
	KindService Kind = "service"
)

// Principal is the identity resolved from a request credential. It is not
// mutated after resolution.
type Principal struct {
	ID        uuid.UUID `json:"id" validate:"required"`
	Kind      Kind      `json:"kind" validate:"required,oneof=user service"`
	Email     string    `json:"email,omitempty" validate:"max=320"`
	IsStaff   bool      `json:"is_staff"`
	IsManager bool      `json:"is_manager"`
}

// IsZero reports whether the principal was never resolved.
func (p Principal) IsZero() bool {
	return p.ID == uuid.Nil
}
