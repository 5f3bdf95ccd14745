// Command demo walks one subscription checkout through the HTTP API against
// an in-process backend and the noop gateway. No Postgres, Redis or vendor
// credentials are needed.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"checkout-orchestrator/internal/config"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/infra/adapters/backend"
	"checkout-orchestrator/internal/infra/adapters/gateway"
	tele "checkout-orchestrator/internal/infra/adapters/telegram"
	"checkout-orchestrator/internal/infra/api"
	"checkout-orchestrator/internal/infra/i18n"
	"checkout-orchestrator/internal/infra/logging"
	"checkout-orchestrator/internal/infra/realtime"
	"checkout-orchestrator/internal/infra/worker"
	"checkout-orchestrator/internal/usecase"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := logging.New(config.LogConfig{Level: "debug", Format: "console"}, true)

	// 1. Fake backend
	be := httptest.NewServer(fakeBackend())
	defer be.Close()

	// 2. Orchestrator wiring
	translator, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}
	pool := worker.NewPool(2, 5*time.Second, logger)
	pool.Start(ctx)
	defer pool.Stop()

	hub := realtime.NewHub(nil, logger)
	defer hub.Close()

	sessions := usecase.NewSessionUseCase(
		usecase.CheckoutDeps{
			Backends: map[model.CheckoutKind]adapter.Backend{
				model.CheckoutKindSubscription: backend.NewSubscriptionBackend(backend.SubscriptionOptions{
					BaseURL:   be.URL,
					Timeout:   5 * time.Second,
					Gateway:   "noop",
					PublicKey: "pk_demo",
					Logger:    logger,
				}),
			},
			Gateways: map[string]adapter.Gateway{
				"noop": gateway.NewNoopGateway(model.GatewaySucceeded(model.Proof{}), 500*time.Millisecond),
			},
			Notifier: realtime.NewNotifier(hub, nil, logger),
			Alerter:  tele.NewNoopAlerter(logger),
			Messages: translator,
			Dispatch: pool,
			Logger:   logger,
		},
		usecase.CheckoutConfig{
			RedirectDelay: 2 * time.Second,
			RedirectTo:    map[model.CheckoutKind]string{model.CheckoutKindSubscription: "/dashboard"},
		},
		usecase.SessionConfig{},
		nil, nil,
	)
	defer func() { _ = sessions.Shutdown(context.Background()) }()

	srv := httptest.NewServer(api.NewServer(api.ServerOptions{
		Sessions: sessions,
		Hub:      hub,
		Logger:   logger,
	}).Router())
	defer srv.Close()

	// 3. Create a session as a logged-in browser
	body, _ := json.Marshal(map[string]any{"kind": "subscription", "planType": "premium", "planName": "Premium", "amount": 49900})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/v1/checkout/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer demo-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Fatal().Err(err).Msg("create session")
	}
	var created struct {
		ID    string         `json:"id"`
		State model.Snapshot `json:"state"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	clientKey := resp.Header.Get("X-Client-Key")
	fmt.Printf("created session %s (status %d)\n", created.ID, resp.StatusCode)

	// 4. Poll until the attempt settles
	last := model.Phase("")
	for {
		snap, err := poll(ctx, srv.URL, created.ID, clientKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("poll session")
		}
		if snap.Phase != last {
			out, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Printf("phase %s\n%s\n", snap.Phase, out)
			last = snap.Phase
		}
		if snap.Phase == model.PhaseSucceeded || snap.Phase == model.PhaseFailed {
			break
		}
		select {
		case <-ctx.Done():
			fmt.Println("timed out")
			os.Exit(1)
		case <-time.After(100 * time.Millisecond):
		}
	}
	fmt.Println("demo finished")
}

func poll(ctx context.Context, base, id, clientKey string) (model.Snapshot, error) {
	var out struct {
		State model.Snapshot `json:"state"`
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v1/checkout/sessions/"+id, nil)
	req.Header.Set("X-Client-Key", clientKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out.State, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out.State, fmt.Errorf("status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out.State, err
}

// fakeBackend answers create-payment with a client secret and verify-payment
// with an active subscription.
func fakeBackend() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscription/create-payment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success":        true,
			"clientSecret":   "pi_demo_secret_123",
			"subscriptionId": "sub_demo",
			"amount":         49900,
			"currency":       "usd",
		})
	})
	mux.HandleFunc("/subscription/verify-payment", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"success":      true,
			"message":      "Subscription activated",
			"subscription": map[string]any{"id": "sub_demo", "status": "active", "planType": "premium"},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
