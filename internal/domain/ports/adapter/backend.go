package adapter

import (
	"context"

	"checkout-orchestrator/internal/domain/model"
)

// Initiator starts a checkout attempt against the backend.
// Errors: domain.ErrAuthRequired, domain.ErrValidationFailed, domain.ErrServerError
// (wrapped with the server-provided message when there is one).
type Initiator interface {
	Initiate(ctx context.Context, req *model.CheckoutRequest) (*model.PaymentIntent, error)
}

// Finalizer asks the backend to activate the purchased entity. proof is nil on
// the no-payment path. Errors wrap domain.ErrServerError.
type Finalizer interface {
	Finalize(ctx context.Context, intent *model.PaymentIntent, proof *model.Proof) (*model.ActivationResult, error)
}

// Backend is one backend contract (subscription or registration).
type Backend interface {
	Initiator
	Finalizer
	Kind() model.CheckoutKind
}

type authTokenKey struct{}

// WithAuthToken carries the user's bearer token to Finalize, whose signature
// has no request to read it from.
func WithAuthToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, authTokenKey{}, token)
}

// AuthToken returns the token set by WithAuthToken.
func AuthToken(ctx context.Context) string {
	v, _ := ctx.Value(authTokenKey{}).(string)
	return v
}
