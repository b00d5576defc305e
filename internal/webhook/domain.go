// Package webhook delivers lifecycle events to subscriber URLs.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Trigger is a lifecycle event kind.
type Trigger string

const (
	TriggerAccountCreated   Trigger = "account.created"
	TriggerAccountUpdated   Trigger = "account.updated"
	TriggerAccountDeleted   Trigger = "account.deleted"
	TriggerTenantCreated    Trigger = "tenant.created"
	TriggerTenantUpdated    Trigger = "tenant.updated"
	TriggerTenantDeleted    Trigger = "tenant.deleted"
	TriggerUserCreated      Trigger = "user.created"
	TriggerUserUpdated      Trigger = "user.updated"
	TriggerUserDeleted      Trigger = "user.deleted"
	TriggerGuestRoleCreated Trigger = "guest_role.created"
	TriggerGuestRoleUpdated Trigger = "guest_role.updated"
	TriggerGuestRoleDeleted Trigger = "guest_role.deleted"
	TriggerTagCreated       Trigger = "tag.created"
	TriggerTagUpdated       Trigger = "tag.updated"
	TriggerTagDeleted       Trigger = "tag.deleted"
	TriggerErrorCodeCreated Trigger = "error_code.created"
	TriggerErrorCodeUpdated Trigger = "error_code.updated"
	TriggerErrorCodeDeleted Trigger = "error_code.deleted"
)

var triggers = map[Trigger]struct{}{
	TriggerAccountCreated: {}, TriggerAccountUpdated: {}, TriggerAccountDeleted: {},
	TriggerTenantCreated: {}, TriggerTenantUpdated: {}, TriggerTenantDeleted: {},
	TriggerUserCreated: {}, TriggerUserUpdated: {}, TriggerUserDeleted: {},
	TriggerGuestRoleCreated: {}, TriggerGuestRoleUpdated: {}, TriggerGuestRoleDeleted: {},
	TriggerTagCreated: {}, TriggerTagUpdated: {}, TriggerTagDeleted: {},
	TriggerErrorCodeCreated: {}, TriggerErrorCodeUpdated: {}, TriggerErrorCodeDeleted: {},
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	_, ok := triggers[t]
	return ok
}

// Status is a propagation's delivery state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

var (
	ErrUnknownTrigger = errors.New("webhook: unknown trigger")
	ErrNotFound       = errors.New("webhook: not found")
	// ErrLocked indicates another worker is delivering the propagation.
	ErrLocked = errors.New("webhook: propagation locked")
	// ErrRetryable marks a failed attempt that will be retried.
	ErrRetryable = errors.New("webhook: delivery failed, retrying")
	// ErrPermanent marks a propagation that reached Failed.
	ErrPermanent = errors.New("webhook: delivery failed permanently")
	// ErrNotRetryable is returned when retrying a propagation that is not Failed.
	ErrNotRetryable = errors.New("webhook: propagation not failed")
)

// WebHook is a subscriber registration.
type WebHook struct {
	ID       uuid.UUID `json:"id"`
	URL      string    `json:"url"`
	Secret   string    `json:"-"`
	Triggers []Trigger `json:"triggers"`
	Active   bool      `json:"active"`
}

// Propagation is one delivery of an event to one webhook.
type Propagation struct {
	ID            uuid.UUID  `json:"id"`
	WebhookID     uuid.UUID  `json:"webhook_id"`
	Trigger       Trigger    `json:"trigger"`
	URL           string     `json:"url"`
	Payload       string     `json:"payload"`
	PayloadID     string     `json:"payload_id"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	AttemptedAt   *time.Time `json:"attempted_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	LastStatus    int        `json:"last_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Attempt is the recorded outcome of one delivery attempt.
type Attempt struct {
	Status        Status
	Attempts      int
	AttemptedAt   time.Time
	NextAttemptAt *time.Time
	LastError     *string
	LastStatus    int
}

// PayloadID derives the dedupe key of an event.
func PayloadID(trigger Trigger, payload string) string {
	sum := sha256.Sum256([]byte(string(trigger) + "\x00" + payload))
	return hex.EncodeToString(sum[:])
}

var propagationNamespace = uuid.MustParse("5b0f4c2e-8a3d-4e61-9f57-3c1d2b7a9e40")

// PropagationID derives the id of the propagation of payloadID to a webhook,
// so re-enqueueing an identical event never creates a second delivery.
func PropagationID(payloadID string, webhookID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(propagationNamespace, []byte(payloadID+":"+webhookID.String()))
}

// Sign computes the signature header value for payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(secret, payload, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

// Backoff returns the delay before retry number attempt (1-based):
// base*2^(attempt-1), capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
