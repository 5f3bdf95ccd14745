// File: internal/infra/adapters/backend/registration_backend.go
package backend

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.Backend = (*RegistrationBackend)(nil)

// RegistrationBackend drives paid parent registration:
// initiate, then confirm with the Razorpay triple.
type RegistrationBackend struct {
	rest    *restClient
	gateway string
}

type RegistrationOptions struct {
	BaseURL string
	Timeout time.Duration
	Gateway string
	HTTP    *http.Client
	Logger  *zerolog.Logger
}

func NewRegistrationBackend(opts RegistrationOptions) *RegistrationBackend {
	if opts.Gateway == "" {
		opts.Gateway = "razorpay"
	}
	return &RegistrationBackend{
		rest:    newRESTClient(opts.BaseURL, opts.Timeout, opts.HTTP, opts.Logger),
		gateway: opts.Gateway,
	}
}

func (b *RegistrationBackend) Kind() model.CheckoutKind { return model.CheckoutKindRegistration }

type initiateRegistrationRequest struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	Flow             string `json:"flow"`
	ChildLinkingCode string `json:"childLinkingCode,omitempty"`
}

type initiateRegistrationResponse struct {
	envelope
	IntentID        string  `json:"intentId"`
	Amount          float64 `json:"amount"` // rupees
	RequiresPayment bool    `json:"requiresPayment"`
	OrderID         string  `json:"orderId"`
	KeyID           string  `json:"keyId"`
}

// Initiate has no success flag in its response; a missing intentId is
// treated as a server error.
func (b *RegistrationBackend) Initiate(ctx context.Context, req *model.CheckoutRequest) (*model.PaymentIntent, error) {
	r := req.Registration
	in := initiateRegistrationRequest{
		Name:             r.Name,
		Email:            r.Email,
		Password:         r.Password,
		Flow:             r.Flow,
		ChildLinkingCode: r.NormalizedLinkingCode(),
	}
	var out initiateRegistrationResponse
	if err := b.rest.postJSON(ctx, "/auth/parent-registration/initiate", req.AuthToken, in, &out); err != nil {
		return nil, err
	}
	if out.IntentID == "" {
		return nil, &domain.BackendError{Kind: domain.ErrServerError, Message: out.Message}
	}
	intent := &model.PaymentIntent{
		IntentID:        out.IntentID,
		Amount:          toPaise(out.Amount),
		Currency:        "INR",
		RequiresPayment: out.RequiresPayment,
		Gateway:         b.gateway,
	}
	if out.RequiresPayment {
		if out.OrderID == "" {
			return nil, &domain.BackendError{Kind: domain.ErrServerError, Message: out.Message}
		}
		intent.GatewayOrderID = out.OrderID
		intent.GatewayPublicKey = out.KeyID
	}
	return intent, nil
}

type confirmRegistrationRequest struct {
	IntentID          string  `json:"intentId"`
	RazorpayPaymentID *string `json:"razorpayPaymentId"`
	RazorpayOrderID   *string `json:"razorpayOrderId"`
	RazorpaySignature *string `json:"razorpaySignature"`
}

type confirmRegistrationResponse struct {
	envelope
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Finalize confirms the registration. The triple is sent as nulls on the
// no-payment path.
func (b *RegistrationBackend) Finalize(ctx context.Context, intent *model.PaymentIntent, proof *model.Proof) (*model.ActivationResult, error) {
	in := confirmRegistrationRequest{IntentID: intent.IntentID}
	if proof != nil {
		in.RazorpayPaymentID = &proof.PaymentID
		in.RazorpayOrderID = &proof.OrderID
		in.RazorpaySignature = &proof.Signature
	}
	var out confirmRegistrationResponse
	if err := b.rest.postJSON(ctx, "/auth/parent-registration/confirm", adapter.AuthToken(ctx), in, &out); err != nil {
		return nil, asServerError(err)
	}
	if err := requireSuccess(out.envelope); err != nil {
		return nil, err
	}
	return &model.ActivationResult{Success: true, Entity: out.User, Token: out.Token, Message: out.Message}, nil
}

func toPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
