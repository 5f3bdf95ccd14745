// File: internal/infra/adapters/backend/subscription_backend.go
package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.Backend = (*SubscriptionBackend)(nil)

// SubscriptionBackend drives plan purchases:
// create-payment, then verify-payment once the card charge succeeded.
type SubscriptionBackend struct {
	rest      *restClient
	gateway   string // adapter that confirms client secrets
	publicKey string
	currency  string
}

type SubscriptionOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Gateway   string
	PublicKey string // publishable key handed to the browser
	Currency  string
	HTTP      *http.Client
	Logger    *zerolog.Logger
}

func NewSubscriptionBackend(opts SubscriptionOptions) *SubscriptionBackend {
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	if opts.Gateway == "" {
		opts.Gateway = "stripe"
	}
	return &SubscriptionBackend{
		rest:      newRESTClient(opts.BaseURL, opts.Timeout, opts.HTTP, opts.Logger),
		gateway:   opts.Gateway,
		publicKey: opts.PublicKey,
		currency:  opts.Currency,
	}
}

func (b *SubscriptionBackend) Kind() model.CheckoutKind { return model.CheckoutKindSubscription }

type createPaymentResponse struct {
	envelope
	ClientSecret   string          `json:"clientSecret"`
	SubscriptionID string          `json:"subscriptionId"`
	Amount         *int64          `json:"amount"`
	Currency       string          `json:"currency"`
	Subscription   json.RawMessage `json:"subscription"`
}

// Initiate calls create-payment. A success without a client secret means the
// plan was activated on the spot (free plan) and no payment is needed.
func (b *SubscriptionBackend) Initiate(ctx context.Context, req *model.CheckoutRequest) (*model.PaymentIntent, error) {
	var out createPaymentResponse
	in := map[string]any{"planType": req.PlanType}
	if req.IsFirstYear {
		in["isFirstYear"] = true
	}
	if err := b.rest.postJSON(ctx, "/subscription/create-payment", req.AuthToken, in, &out); err != nil {
		return nil, err
	}
	if err := requireSuccess(out.envelope); err != nil {
		return nil, err
	}

	intent := &model.PaymentIntent{
		IntentID: out.SubscriptionID,
		Amount:   req.Amount,
		Currency: b.currency,
		Gateway:  b.gateway,
	}
	if out.Amount != nil {
		intent.Amount = *out.Amount
	}
	if out.Currency != "" {
		intent.Currency = out.Currency
	}
	if out.ClientSecret == "" {
		intent.Activated = out.Subscription
		return intent, nil
	}
	if out.SubscriptionID == "" {
		return nil, &domain.BackendError{Kind: domain.ErrServerError, Message: out.Message}
	}
	intent.RequiresPayment = true
	intent.GatewayClientSecret = out.ClientSecret
	intent.GatewayPublicKey = b.publicKey
	return intent, nil
}

type verifyPaymentResponse struct {
	envelope
	Subscription json.RawMessage `json:"subscription"`
}

// Finalize calls verify-payment for a paid intent. Without a proof the intent
// was activated by Initiate and its entity is returned as-is.
func (b *SubscriptionBackend) Finalize(ctx context.Context, intent *model.PaymentIntent, proof *model.Proof) (*model.ActivationResult, error) {
	if proof == nil {
		return &model.ActivationResult{Success: true, Entity: intent.Activated}, nil
	}
	var out verifyPaymentResponse
	in := map[string]string{
		"subscriptionId":  intent.IntentID,
		"paymentIntentId": proof.PaymentID,
	}
	if err := b.rest.postJSON(ctx, "/subscription/verify-payment", adapter.AuthToken(ctx), in, &out); err != nil {
		return nil, asServerError(err)
	}
	if err := requireSuccess(out.envelope); err != nil {
		return nil, err
	}
	return &model.ActivationResult{Success: true, Entity: out.Subscription, Message: out.Message}, nil
}
