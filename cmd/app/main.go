// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"checkout-orchestrator/internal/config"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/infra/adapters/backend"
	"checkout-orchestrator/internal/infra/adapters/gateway"
	tele "checkout-orchestrator/internal/infra/adapters/telegram"
	"checkout-orchestrator/internal/infra/api"
	pg "checkout-orchestrator/internal/infra/db/postgres"
	"checkout-orchestrator/internal/infra/i18n"
	"checkout-orchestrator/internal/infra/logging"
	"checkout-orchestrator/internal/infra/metrics"
	"checkout-orchestrator/internal/infra/realtime"
	red "checkout-orchestrator/internal/infra/redis"
	"checkout-orchestrator/internal/infra/sched"
	"checkout-orchestrator/internal/infra/security"
	"checkout-orchestrator/internal/infra/worker"
	"checkout-orchestrator/internal/usecase"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- CLI flags / config ----
	cfgPath, devMode := config.ParseFlags()
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		// logger is not configured yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if err := pg.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("postgres schema")
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	// ---- Encryption / i18n ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey, cfg.Security.PreviousKeys...)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption")
	}
	translator, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}

	// ---- Repositories ----
	attemptRepo := pg.NewCheckoutAttemptRepo(pool)
	pendingRepo := red.NewPendingIntentRepo(redisClient, encSvc, cfg.Redis.TTL)
	locker := red.NewLocker(redisClient)
	limiter := red.NewRateLimiter(redisClient)

	// ---- Backends ----
	backendHTTP := &http.Client{Timeout: cfg.Backend.Timeout}
	backends := map[model.CheckoutKind]adapter.Backend{
		model.CheckoutKindSubscription: backend.NewSubscriptionBackend(backend.SubscriptionOptions{
			BaseURL:   cfg.Backend.BaseURL,
			Timeout:   cfg.Backend.Timeout,
			Gateway:   cfg.Gateway.Subscription,
			PublicKey: cfg.Gateway.Stripe.PublishableKey,
			HTTP:      backendHTTP,
			Logger:    logger,
		}),
		model.CheckoutKindRegistration: backend.NewRegistrationBackend(backend.RegistrationOptions{
			BaseURL: cfg.Backend.BaseURL,
			Timeout: cfg.Backend.Timeout,
			Gateway: cfg.Gateway.Registration,
			HTTP:    backendHTTP,
			Logger:  logger,
		}),
	}

	// ---- Gateways ----
	gateways := map[string]adapter.Gateway{}
	var receivers []adapter.CallbackReceiver
	for _, name := range []string{cfg.Gateway.Subscription, cfg.Gateway.Registration} {
		if _, ok := gateways[name]; ok {
			continue
		}
		switch name {
		case "stripe":
			g := gateway.NewStripeGateway(gateway.StripeOptions{
				SecretKey:   cfg.Gateway.Stripe.SecretKey,
				LoadTimeout: cfg.Gateway.LoadTimeout,
				Logger:      logger,
			})
			gateways[name] = g
			receivers = append(receivers, g)
		case "razorpay":
			g := gateway.NewRazorpayGateway(gateway.RazorpayOptions{
				KeySecret:   cfg.Gateway.Razorpay.KeySecret,
				ScriptURL:   cfg.Gateway.Razorpay.ScriptURL,
				LoadTimeout: cfg.Gateway.LoadTimeout,
				Logger:      logger,
			})
			gateways[name] = g
			receivers = append(receivers, g)
		case "noop":
			gateways[name] = gateway.NewNoopGateway(model.GatewaySucceeded(model.Proof{}), 2*time.Second)
		}
		logger.Info().Str("gateway", name).Msg("payment gateway configured")
	}

	// ---- Telegram support alerts ----
	var alerter adapter.SupportAlerter
	if cfg.Telegram.Token != "" {
		alerter, err = tele.NewSupportAlerter(cfg.Telegram.Token, cfg.Telegram.SupportChat, translator, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
	} else {
		logger.Warn().Msg("telegram.token not set; support alerts go to the log only")
		alerter = tele.NewNoopAlerter(logger)
	}

	// ---- Worker pool / realtime ----
	workers := worker.NewPool(cfg.Worker.Size, cfg.Worker.TaskTimeout, logger)
	workers.Start(ctx)

	hub := realtime.NewHub(cfg.HTTP.AllowedOrigins, logger)
	notifier := realtime.NewNotifier(hub, redisClient, logger)

	// ---- Use cases ----
	sessions := usecase.NewSessionUseCase(
		usecase.CheckoutDeps{
			Backends: backends,
			Gateways: gateways,
			Notifier: notifier,
			Alerter:  alerter,
			Pending:  pendingRepo,
			Attempts: attemptRepo,
			Messages: translator,
			Dispatch: workers,
			Logger:   logger,
		},
		usecase.CheckoutConfig{
			RedirectDelay: cfg.Checkout.RedirectDelay,
			RedirectTo: map[model.CheckoutKind]string{
				model.CheckoutKindSubscription: cfg.Checkout.SubscriptionRedirect,
				model.CheckoutKindRegistration: cfg.Checkout.RegistrationRedirect,
			},
		},
		usecase.SessionConfig{
			LockTTL:    cfg.Checkout.LockTTL,
			RateLimit:  cfg.Checkout.RateLimit,
			RateWindow: cfg.Checkout.RateWindow,
		},
		locker, limiter,
	)

	// ---- Background jobs ----
	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error {
		notifier.Relay(bgCtx)
		return nil
	})
	bg.Go(func() error {
		pg.ReportPoolStats(bgCtx, pool, 30*time.Second)
		return nil
	})
	bg.Go(func() error {
		redisClient.ReportPoolStats(bgCtx, 30*time.Second)
		return nil
	})
	bg.Go(func() error {
		return sched.NewEscalationWorker(attemptRepo, alerter, cfg.Scheduler.EscalationInterval, cfg.Scheduler.EscalationAge, logger).Run(bgCtx)
	})
	bg.Go(func() error {
		return sched.NewSessionJanitor(sessions, cfg.Scheduler.JanitorInterval, cfg.Checkout.SessionTTL, logger).Run(bgCtx)
	})

	// ---- HTTP API ----
	srv := api.NewServer(api.ServerOptions{
		Sessions:  sessions,
		Receivers: receivers,
		Hub:       hub,
		Auth:      api.NewAuthManager(cfg.Security.JWTSecret, !cfg.Runtime.Dev, cfg.Checkout.SessionTTL),
		Health: map[string]api.Pinger{
			"postgres": pool,
			"redis":    redisClient,
		},
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutCancel()
	if err := server.Shutdown(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	hub.Close()
	if err := sessions.Shutdown(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("checkout sessions did not settle")
	}
	workers.Stop()
	if err := bg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("background job stopped")
	}
	logger.Info().Msg("bye")
}
