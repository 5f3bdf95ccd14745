package model

import "time"

// CheckoutAttempt is the service-side audit trail of one checkout, kept so
// support can reconcile charges whose activation failed.
type CheckoutAttempt struct {
	ID             string // checkout session id (ULID)
	ClientKey      string
	UserID         string // empty when unauthenticated
	Kind           CheckoutKind
	PlanType       string
	IntentID       string
	Gateway        string
	Amount         int64
	Phase          Phase
	Failure        FailureKind
	Message        string
	ProofPaymentID string
	Resolved       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
