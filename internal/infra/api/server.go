package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/infra/realtime"
	"checkout-orchestrator/internal/usecase"
)

// Pinger is a dependency /health reports on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ServerOptions struct {
	Sessions       usecase.SessionUseCase
	Receivers      []adapter.CallbackReceiver
	Hub            *realtime.Hub // nil disables /ws
	Auth           *AuthManager
	Health         map[string]Pinger
	AllowedOrigins []string
	RequestTimeout time.Duration
	Metrics        http.Handler // defaults to the default Prometheus registry
	Logger         *zerolog.Logger
}

// Server is the browser-facing checkout API.
type Server struct {
	sessions  usecase.SessionUseCase
	receivers map[string]adapter.CallbackReceiver
	hub       *realtime.Hub
	auth      *AuthManager
	health    map[string]Pinger
	origins   []string
	timeout   time.Duration
	metrics   http.Handler
	log       *zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Auth == nil {
		opts.Auth = NewAuthManager("", false, 0)
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	recv := make(map[string]adapter.CallbackReceiver, len(opts.Receivers))
	for _, r := range opts.Receivers {
		recv[r.Name()] = r
	}
	return &Server{
		sessions:  opts.Sessions,
		receivers: recv,
		hub:       opts.Hub,
		auth:      opts.Auth,
		health:    opts.Health,
		origins:   opts.AllowedOrigins,
		timeout:   opts.RequestTimeout,
		metrics:   opts.Metrics,
		log:       opts.Logger,
	}
}

// Router builds the chi mux. The request timeout is not applied to /ws.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log), CORS(s.origins))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics)
	r.With(s.auth.Identify).Get("/ws", s.handleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Timeout(s.timeout), s.auth.Identify)

		r.Post("/checkout/sessions", s.createSession)
		r.Get("/checkout/sessions/{id}", s.getSession)
		r.Delete("/checkout/sessions/{id}", s.closeSession)
		r.Post("/checkout/sessions/{id}/dismiss", s.dismissSession)
		r.Post("/checkout/sessions/{id}/retry", s.retrySession)
		r.Get("/checkout/pending", s.pendingIntent)

		r.Post("/gateway/{gateway}/events", s.gatewayEvent)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.health))
	status := http.StatusOK
	for name, p := range s.health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "realtime disabled")
		return
	}
	s.hub.ServeWS(w, r, identityFrom(r.Context()).UserID, s.auth.ClientKey(w, r, false))
}
