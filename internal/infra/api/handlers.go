package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/domain/model"
	"checkout-orchestrator/internal/domain/ports/adapter"
	"checkout-orchestrator/internal/infra/logging"
	"checkout-orchestrator/internal/usecase"
)

const maxBody = 64 << 10

type registrationRequest struct {
	Name             string `json:"name" validate:"notblank,max=120"`
	Email            string `json:"email" validate:"required,email,max=254"`
	Password         string `json:"password" validate:"required,min=6,max=128"`
	Flow             string `json:"flow" validate:"required,oneof=child_not_created child_existing"`
	ChildLinkingCode string `json:"childLinkingCode" validate:"required_if=Flow child_existing,max=32"`
}

type createSessionRequest struct {
	Kind         string               `json:"kind" validate:"required,oneof=subscription registration"`
	PlanType     string               `json:"planType" validate:"required_if=Kind subscription,max=64"`
	PlanName     string               `json:"planName" validate:"max=128"`
	Amount       int64                `json:"amount" validate:"min=0"`
	IsFirstYear  bool                 `json:"isFirstYear"`
	Registration *registrationRequest `json:"registration" validate:"-"`
}

// problems returns {field: message} or nil when the body is acceptable.
func (b *createSessionRequest) problems() map[string]string {
	out := map[string]string{}
	merge := func(prefix string, err error) {
		if err == nil {
			return
		}
		if fields, ok := fieldErrors(err); ok {
			for k, v := range fields {
				out[prefix+k] = v
			}
			return
		}
		out[strings.TrimSuffix(prefix, ".")] = err.Error()
	}
	merge("", validate.Struct(b))
	if b.Kind == string(model.CheckoutKindRegistration) {
		if b.Registration == nil {
			out["registration"] = "registration is a required field"
		} else {
			merge("registration.", validate.Struct(b.Registration))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *createSessionRequest) toModel(token string) *model.CheckoutRequest {
	req := &model.CheckoutRequest{
		Kind:        model.CheckoutKind(b.Kind),
		PlanType:    b.PlanType,
		PlanName:    b.PlanName,
		Amount:      b.Amount,
		IsFirstYear: b.IsFirstYear,
		AuthToken:   token,
	}
	if r := b.Registration; r != nil && req.Kind == model.CheckoutKindRegistration {
		req.Registration = &model.RegistrationDetails{
			Name:             strings.TrimSpace(r.Name),
			Email:            strings.TrimSpace(r.Email),
			Password:         r.Password,
			Flow:             r.Flow,
			ChildLinkingCode: r.ChildLinkingCode,
		}
	}
	return req
}

type sessionResponse struct {
	ID        string             `json:"id"`
	Kind      model.CheckoutKind `json:"kind"`
	UpdatedAt time.Time          `json:"updatedAt"`
	State     model.Snapshot     `json:"state"`
}

func toSessionResponse(v *usecase.SessionView) sessionResponse {
	snap := model.SnapshotOf(v.State)
	if v.Settling {
		snap.Closable = false
	}
	return sessionResponse{
		ID:        v.ID,
		Kind:      v.Kind,
		UpdatedAt: v.UpdatedAt,
		State:     snap,
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "missing request body")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if !decode(w, r, &body) {
		return
	}
	if fields := body.problems(); fields != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "validation failed", Fields: fields})
		return
	}

	id := identityFrom(r.Context())
	clientKey := s.auth.ClientKey(w, r, true)
	v, err := s.sessions.Create(r.Context(), clientKey, id.UserID, body.toModel(id.Token))
	if err != nil {
		l := logging.With(r.Context(), s.log)
		l.Info().Err(err).Str("kind", body.Kind).Msg("checkout create refused")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSessionResponse(v))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"), s.auth.ClientKey(w, r, false))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(v))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), chi.URLParam(r, "id"), s.auth.ClientKey(w, r, false)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dismissSession(w http.ResponseWriter, r *http.Request) {
	id, clientKey := chi.URLParam(r, "id"), s.auth.ClientKey(w, r, false)
	if err := s.sessions.Dismiss(r.Context(), id, clientKey); err != nil {
		writeDomainError(w, err)
		return
	}
	s.getSession(w, r)
}

func (s *Server) retrySession(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Retry(r.Context(), chi.URLParam(r, "id"), s.auth.ClientKey(w, r, false), identityFrom(r.Context()).Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSessionResponse(v))
}

func (s *Server) pendingIntent(w http.ResponseWriter, r *http.Request) {
	clientKey := s.auth.ClientKey(w, r, false)
	if clientKey == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	p, err := s.sessions.ResumePending(r.Context(), clientKey)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type gatewayEventRequest struct {
	Kind   string            `json:"kind" validate:"required,oneof=success dismiss failed"`
	Handle string            `json:"handle" validate:"notblank,max=256"`
	Fields map[string]string `json:"fields" validate:"max=16"`
}

// gatewayEvent accepts a vendor callback forwarded by the browser.
func (s *Server) gatewayEvent(w http.ResponseWriter, r *http.Request) {
	recv, ok := s.receivers[chi.URLParam(r, "gateway")]
	if !ok {
		writeDomainError(w, domain.ErrUnknownGateway)
		return
	}
	var body gatewayEventRequest
	if !decode(w, r, &body) {
		return
	}
	if err := validate.Struct(&body); err != nil {
		writeValidation(w, err)
		return
	}
	ev := adapter.GatewayEvent{Kind: adapter.GatewayEventKind(body.Kind), Handle: body.Handle, Fields: body.Fields}
	if err := recv.Deliver(r.Context(), ev); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
