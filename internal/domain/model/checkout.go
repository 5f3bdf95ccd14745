package model

import (
	"encoding/json"
	"strings"
	"time"

	"checkout-orchestrator/internal/domain"
)

// CheckoutKind selects which backend contract an attempt runs against.
type CheckoutKind string

const (
	CheckoutKindSubscription CheckoutKind = "subscription" // plan purchase (create-payment / verify-payment)
	CheckoutKindRegistration CheckoutKind = "registration" // paid account registration (initiate / confirm)
)

func (k CheckoutKind) Valid() bool {
	return k == CheckoutKindSubscription || k == CheckoutKindRegistration
}

// RequiresLogin reports whether an attempt needs a bearer token before the
// backend is contacted. Parent registration is how an account gets created,
// so it runs anonymously.
func (k CheckoutKind) RequiresLogin() bool {
	return k == CheckoutKindSubscription
}

// ActivationEvent is the realtime event broadcast after a successful finalization.
func (k CheckoutKind) ActivationEvent() string {
	if k == CheckoutKindRegistration {
		return "account:activated"
	}
	return "subscription:activated"
}

// PayloadKey is the field name the activated entity is published under.
func (k CheckoutKind) PayloadKey() string {
	if k == CheckoutKindRegistration {
		return "account"
	}
	return "subscription"
}

// RegistrationDetails is the form a registration checkout submits.
type RegistrationDetails struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password,omitempty"`
	Flow             string `json:"flow"` // child_not_created | child_existing
	ChildLinkingCode string `json:"childLinkingCode,omitempty"`
}

// NormalizedLinkingCode trims and upper-cases the child linking code.
func (r *RegistrationDetails) NormalizedLinkingCode() string {
	return strings.ToUpper(strings.TrimSpace(r.ChildLinkingCode))
}

// CheckoutRequest is everything one checkout attempt needs from its caller.
type CheckoutRequest struct {
	Kind         CheckoutKind
	PlanType     string
	PlanName     string
	Amount       int64
	IsFirstYear  bool
	Registration *RegistrationDetails

	// AuthToken is forwarded to the backend as a bearer token. Empty means the
	// user is not logged in.
	AuthToken string
}

func (r *CheckoutRequest) Validate() error {
	if r == nil || !r.Kind.Valid() {
		return domain.ErrInvalidArgument
	}
	switch r.Kind {
	case CheckoutKindSubscription:
		if r.PlanType == "" || r.Amount < 0 {
			return domain.ErrInvalidArgument
		}
	case CheckoutKindRegistration:
		if r.Registration == nil || r.Registration.Flow == "" {
			return domain.ErrInvalidArgument
		}
	}
	return nil
}

// PaymentIntent is one server-tracked checkout attempt prior to payment
// confirmation. It only lives in memory for the duration of the attempt.
type PaymentIntent struct {
	IntentID            string
	Amount              int64
	Currency            string
	RequiresPayment     bool
	Gateway             string // adapter name serving this intent
	GatewayOrderID      string
	GatewayClientSecret string
	GatewayPublicKey    string

	// Activated holds the entity when the backend activated immediately
	// (e.g. the free plan) and no gateway round-trip is needed.
	Activated json.RawMessage
}

// Handle is the gateway-specific opaque handle the adapter opens with.
func (p *PaymentIntent) Handle() string {
	if p.GatewayOrderID != "" {
		return p.GatewayOrderID
	}
	return p.GatewayClientSecret
}

func (p *PaymentIntent) Validate() error {
	if p == nil || p.Amount < 0 {
		return domain.ErrInvalidArgument
	}
	if p.RequiresPayment && p.Handle() == "" {
		return domain.ErrInvalidArgument
	}
	return nil
}

// GatewayCredentials is what a gateway adapter needs to open its UI.
type GatewayCredentials struct {
	Handle    string // order id or client secret
	PublicKey string
}

// Outcome is one of the three results a gateway interaction can produce.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Proof is the gateway-issued evidence that a charge happened.
type Proof struct {
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Key identifies the charge the proof refers to.
func (p *Proof) Key() string {
	if p == nil {
		return ""
	}
	if p.PaymentID != "" {
		return p.PaymentID
	}
	return p.OrderID
}

// GatewayResult is produced once per gateway invocation and consumed
// immediately by the finalizer.
type GatewayResult struct {
	Outcome Outcome
	Proof   *Proof // only when Outcome == OutcomeSucceeded
	Reason  string // only when Outcome == OutcomeFailed
}

func GatewaySucceeded(p Proof) GatewayResult {
	return GatewayResult{Outcome: OutcomeSucceeded, Proof: &p}
}

func GatewayCancelled() GatewayResult {
	return GatewayResult{Outcome: OutcomeCancelled}
}

func GatewayFailed(reason string) GatewayResult {
	return GatewayResult{Outcome: OutcomeFailed, Reason: reason}
}

// ActivationResult is the backend's answer to a finalization request.
type ActivationResult struct {
	Success bool
	Entity  json.RawMessage // subscription / account record
	Token   string          // session token issued by registration confirm
	Message string
}

// PendingIntent is written only when a checkout has to detour through login.
// It never carries the password.
type PendingIntent struct {
	Kind             CheckoutKind `json:"kind"`
	PlanType         string       `json:"planType,omitempty"`
	PlanName         string       `json:"planName,omitempty"`
	Amount           int64        `json:"amount"`
	IsFirstYear      bool         `json:"isFirstYear"`
	Flow             string       `json:"flow,omitempty"`
	Name             string       `json:"name,omitempty"`
	Email            string       `json:"email,omitempty"`
	ChildLinkingCode string       `json:"childLinkingCode,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}

func NewPendingIntent(req *CheckoutRequest, now time.Time) *PendingIntent {
	p := &PendingIntent{
		Kind:        req.Kind,
		PlanType:    req.PlanType,
		PlanName:    req.PlanName,
		Amount:      req.Amount,
		IsFirstYear: req.IsFirstYear,
		CreatedAt:   now,
	}
	if r := req.Registration; r != nil {
		p.Flow = r.Flow
		p.Name = r.Name
		p.Email = r.Email
		p.ChildLinkingCode = r.ChildLinkingCode
	}
	return p
}

// Request rebuilds a checkout request from the pending record. Registration
// resumes need the password supplied again by the caller.
func (p *PendingIntent) Request(authToken string) *CheckoutRequest {
	req := &CheckoutRequest{
		Kind:        p.Kind,
		PlanType:    p.PlanType,
		PlanName:    p.PlanName,
		Amount:      p.Amount,
		IsFirstYear: p.IsFirstYear,
		AuthToken:   authToken,
	}
	if p.Kind == CheckoutKindRegistration {
		req.Registration = &RegistrationDetails{
			Name:             p.Name,
			Email:            p.Email,
			Flow:             p.Flow,
			ChildLinkingCode: p.ChildLinkingCode,
		}
	}
	return req
}
