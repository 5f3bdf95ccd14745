package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
)

var (
	_ adapter.Gateway          = (*RazorpayGateway)(nil)
	_ adapter.CallbackReceiver = (*RazorpayGateway)(nil)
)

const DefaultRazorpayScriptURL = "https://checkout.razorpay.com/v1/checkout.js"

// RazorpayGateway waits on Razorpay Checkout callbacks for an order and
// verifies the payment signature before reporting success.
type RazorpayGateway struct {
	secret []byte
	loader *lazyLoader[string]
	bridge *bridge
	log    *zerolog.Logger
}

type RazorpayOptions struct {
	KeySecret   string
	ScriptURL   string
	LoadTimeout time.Duration
	HTTP        *http.Client
	Logger      *zerolog.Logger
}

func NewRazorpayGateway(opts RazorpayOptions) *RazorpayGateway {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultRazorpayScriptURL
	}
	hc := opts.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: opts.LoadTimeout}
	}
	// The checkout script is what the browser loads; if it is unreachable the
	// vendor UI cannot open.
	probe := func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.ScriptURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return "", err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("checkout script: http %d", resp.StatusCode)
		}
		return opts.ScriptURL, nil
	}
	return &RazorpayGateway{
		secret: []byte(opts.KeySecret),
		loader: newLazyLoader("razorpay", opts.LoadTimeout, probe),
		bridge: newBridge("razorpay"),
		log:    logger,
	}
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

func (g *RazorpayGateway) EnsureLoaded(ctx context.Context) error {
	if _, err := g.loader.get(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return nil
}

// Open waits for the checkout of order creds.Handle to report back.
func (g *RazorpayGateway) Open(ctx context.Context, creds model.GatewayCredentials, amount int64, meta map[string]string) model.GatewayResult {
	if _, err := g.loader.get(ctx); err != nil {
		if ctx.Err() != nil {
			return model.GatewayCancelled()
		}
		g.log.Warn().Err(err).Msg("razorpay unavailable")
		return model.GatewayFailed(domain.ErrGatewayUnavailable.Error())
	}
	return g.bridge.await(ctx, creds.Handle, func(ctx context.Context, ev adapter.GatewayEvent) model.GatewayResult {
		return g.resolve(creds.Handle, ev)
	})
}

func (g *RazorpayGateway) Deliver(ctx context.Context, ev adapter.GatewayEvent) error {
	return g.bridge.deliver(ev)
}

func (g *RazorpayGateway) resolve(orderID string, ev adapter.GatewayEvent) model.GatewayResult {
	if ev.Kind == adapter.GatewayEventFailed {
		return model.GatewayFailed(ev.Fields["description"])
	}
	proof := model.Proof{
		PaymentID: ev.Fields["razorpay_payment_id"],
		OrderID:   ev.Fields["razorpay_order_id"],
		Signature: ev.Fields["razorpay_signature"],
	}
	if err := g.verify(orderID, proof); err != nil {
		g.log.Warn().Err(err).Str("order_id", orderID).Str("payment_id", proof.PaymentID).Msg("razorpay signature rejected")
		return model.GatewayFailed("")
	}
	return model.GatewaySucceeded(proof)
}

var errBadSignature = errors.New("signature mismatch")

// verify checks hex(HMAC-SHA256(order_id|payment_id, key_secret)).
func (g *RazorpayGateway) verify(orderID string, p model.Proof) error {
	if p.PaymentID == "" || p.Signature == "" {
		return errors.New("incomplete payment response")
	}
	if p.OrderID != orderID {
		return errors.New("order id mismatch")
	}
	got, err := hex.DecodeString(p.Signature)
	if err != nil {
		return errBadSignature
	}
	if !hmac.Equal(got, Sign(g.secret, p.OrderID, p.PaymentID)) {
		return errBadSignature
	}
	return nil
}

// Sign returns the raw Razorpay payment signature for an order/payment pair.
func Sign(secret []byte, orderID, paymentID string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return mac.Sum(nil)
}
