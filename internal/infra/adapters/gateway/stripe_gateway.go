package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
)

var (
	_ adapter.Gateway          = (*StripeGateway)(nil)
	_ adapter.CallbackReceiver = (*StripeGateway)(nil)
)

const lookupTimeout = 15 * time.Second

// IntentFetcher retrieves a PaymentIntent by id.
type IntentFetcher func(ctx context.Context, id string) (*stripe.PaymentIntent, error)

// StripeGateway confirms card payments made with Stripe Elements. The browser
// confirms the client secret; the success callback names the PaymentIntent,
// whose status is then read back from Stripe.
type StripeGateway struct {
	loader *lazyLoader[IntentFetcher]
	bridge *bridge
	log    *zerolog.Logger
}

type StripeOptions struct {
	SecretKey   string
	LoadTimeout time.Duration
	Logger      *zerolog.Logger
	// Fetcher replaces the stripe-go client (tests).
	Fetcher IntentFetcher
}

func NewStripeGateway(opts StripeOptions) *StripeGateway {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	load := func(ctx context.Context) (IntentFetcher, error) {
		if opts.Fetcher != nil {
			return opts.Fetcher, nil
		}
		if opts.SecretKey == "" {
			return nil, errors.New("stripe secret key not configured")
		}
		sc := client.New(opts.SecretKey, nil)
		return func(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
			params := &stripe.PaymentIntentParams{}
			params.Context = ctx
			return sc.PaymentIntents.Get(id, params)
		}, nil
	}
	return &StripeGateway{
		loader: newLazyLoader("stripe", opts.LoadTimeout, load),
		bridge: newBridge("stripe"),
		log:    logger,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) EnsureLoaded(ctx context.Context) error {
	if _, err := g.loader.get(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

// Open waits for the browser to report the outcome of confirming creds.Handle
// (the client secret).
func (g *StripeGateway) Open(ctx context.Context, creds model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult {
	fetch, err := g.loader.get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return model.GatewayCancelled()
		}
		g.log.Warn().Err(err).Msg("stripe unavailable")
		return model.GatewayFailed(domain.ErrGatewayUnavailable.Error())
	}
	return g.bridge.await(ctx, creds.Handle, func(ctx context.Context, ev adapter.GatewayEvent) model.GatewayResult {
		return g.resolve(ctx, fetch, creds.Handle, ev)
	})
}

func (g *StripeGateway) Deliver(ctx context.Context, ev adapter.GatewayEvent) error {
	return g.bridge.deliver(ev)
}

func (g *StripeGateway) resolve(ctx context.Context, fetch IntentFetcher, clientSecret string, ev adapter.GatewayEvent) model.GatewayResult {
	if ev.Kind == adapter.GatewayEventFailed {
		return model.GatewayFailed(ev.Fields["message"])
	}

	want := intentIDFromSecret(clientSecret)
	id := ev.Fields["payment_intent_id"]
	if id == "" {
		id = want
	}
	if want != "" && id != want {
		g.log.Warn().Str("reported", id).Msg("stripe callback names a different payment intent")
		return model.GatewayFailed("")
	}

	// The browser has confirmed the charge; the lookup outlives Close.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
	defer cancel()
	pi, err := fetch(lctx, id)
	if err != nil {
		g.log.Error().Err(err).Str("payment_intent", id).Msg("stripe lookup failed")
		return model.GatewayFailed(domain.ErrGatewayUnavailable.Error())
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return model.GatewaySucceeded(model.Proof{PaymentID: pi.ID})
	case stripe.PaymentIntentStatusCanceled:
		return model.GatewayCancelled()
	default:
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			return model.GatewayFailed(pi.LastPaymentError.Msg)
		}
		return model.GatewayFailed("")
	}
}

// intentIDFromSecret extracts "pi_123" from "pi_123_secret_abc".
func intentIDFromSecret(secret string) string {
	if i := strings.Index(secret, "_secret_"); i > 0 {
		return secret[:i]
	}
	return ""
}
