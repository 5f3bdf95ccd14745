package model

import (
	"encoding/json"
	"time"
)

// Phase names the orchestrator's current state.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseInitiating      Phase = "initiating"
	PhaseAwaitingAuth    Phase = "awaiting_auth"
	PhaseAwaitingGateway Phase = "awaiting_gateway"
	PhaseFinalizing      Phase = "finalizing"
	PhaseSucceeded       Phase = "succeeded"
	PhaseFailed          Phase = "failed"
)

// FailureKind classifies a failed checkout for display and retry policy.
type FailureKind string

const (
	FailureValidation FailureKind = "validation_failed"
	FailureGateway    FailureKind = "gateway_failed"
	FailureActivation FailureKind = "activation_failed" // money already moved
	FailureServer     FailureKind = "server_error"
)

// Retryable reports whether the user may simply re-submit.
func (k FailureKind) Retryable() bool { return k != FailureActivation }

// State is the orchestrator state. Only the types in this file implement it,
// so a checkout is always in exactly one of them.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct {
	Notice string // neutral status, e.g. "payment cancelled"
}

type Initiating struct{}

type AwaitingAuth struct {
	Pending *PendingIntent
	Message string
}

type AwaitingGateway struct {
	Intent *PaymentIntent
}

type Finalizing struct {
	Intent *PaymentIntent
	Proof  *Proof // nil on the no-payment path
}

type Succeeded struct {
	Activation *ActivationResult
	RedirectTo string
	RedirectAt time.Time
}

type Failed struct {
	Kind    FailureKind
	Message string
}

func (Idle) Phase() Phase            { return PhaseIdle }
func (Initiating) Phase() Phase      { return PhaseInitiating }
func (AwaitingAuth) Phase() Phase    { return PhaseAwaitingAuth }
func (AwaitingGateway) Phase() Phase { return PhaseAwaitingGateway }
func (Finalizing) Phase() Phase      { return PhaseFinalizing }
func (Succeeded) Phase() Phase       { return PhaseSucceeded }
func (Failed) Phase() Phase          { return PhaseFailed }

func (Idle) isState()            {}
func (Initiating) isState()      {}
func (AwaitingAuth) isState()    {}
func (AwaitingGateway) isState() {}
func (Finalizing) isState()      {}
func (Succeeded) isState()       {}
func (Failed) isState()          {}

// IsTerminal reports whether s is a display state that only Dismiss/Close leaves.
func IsTerminal(s State) bool {
	switch s.(type) {
	case Succeeded, Failed, AwaitingAuth:
		return true
	}
	return false
}

// GatewayView is the part of an intent the browser needs to open the vendor UI.
type GatewayView struct {
	Name      string `json:"name"`
	Handle    string `json:"handle"`
	PublicKey string `json:"publicKey"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// Snapshot is the JSON rendering of a State.
type Snapshot struct {
	Phase      Phase           `json:"phase"`
	Notice     string          `json:"notice,omitempty"`
	Message    string          `json:"message,omitempty"`
	Failure    FailureKind     `json:"failure,omitempty"`
	Retryable  bool            `json:"retryable"`
	Closable   bool            `json:"closable"`
	Gateway    *GatewayView    `json:"gateway,omitempty"`
	Pending    *PendingIntent  `json:"pending,omitempty"`
	Entity     json.RawMessage `json:"entity,omitempty"`
	Token      string          `json:"token,omitempty"`
	RedirectTo string          `json:"redirectTo,omitempty"`
	RedirectAt *time.Time      `json:"redirectAt,omitempty"`
}

func SnapshotOf(s State) Snapshot {
	snap := Snapshot{Phase: s.Phase(), Closable: s.Phase() != PhaseFinalizing}
	switch v := s.(type) {
	case Idle:
		snap.Notice = v.Notice
	case AwaitingAuth:
		snap.Message = v.Message
		snap.Pending = v.Pending
	case AwaitingGateway:
		if in := v.Intent; in != nil {
			snap.Gateway = &GatewayView{
				Name:      in.Gateway,
				Handle:    in.Handle(),
				PublicKey: in.GatewayPublicKey,
				Amount:    in.Amount,
				Currency:  in.Currency,
			}
		}
	case Succeeded:
		if v.Activation != nil {
			snap.Entity = v.Activation.Entity
			snap.Token = v.Activation.Token
		}
		snap.RedirectTo = v.RedirectTo
		if !v.RedirectAt.IsZero() {
			at := v.RedirectAt
			snap.RedirectAt = &at
		}
	case Failed:
		snap.Message = v.Message
		snap.Failure = v.Kind
		snap.Retryable = v.Kind.Retryable()
	}
	return snap
}
