// File: internal/infra/adapters/backend/client.go
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain"
	"checkout-orchestrator/internal/infra/logging"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// restClient speaks the backend's JSON REST contract. It never retries.
type restClient struct {
	base   string
	client *http.Client
	log    *zerolog.Logger
}

func newRESTClient(baseURL string, timeout time.Duration, hc *http.Client, logger *zerolog.Logger) *restClient {
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &restClient{base: strings.TrimRight(baseURL, "/"), client: hc, log: logger}
}

// envelope is the part of every backend response the client inspects.
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// postJSON posts in and decodes a 2xx body into out. Non-2xx statuses and
// transport failures come back as *domain.BackendError.
func (c *restClient) postJSON(ctx context.Context, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := logging.TraceID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("backend unreachable")
		return &domain.BackendError{Kind: domain.ErrServerError, Message: ""}
	}
	defer resp.Body.Close()
	c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &env)
		return &domain.BackendError{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode, Message: env.Message}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.BackendError{Kind: domain.ErrServerError, Status: resp.StatusCode, Message: ""}
	}
	return nil
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return domain.ErrAuthRequired
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrValidationFailed
	default:
		return domain.ErrServerError
	}
}

// requireSuccess turns a missing or false success flag into ErrServerError.
func requireSuccess(env envelope) error {
	if env.Success == nil || !*env.Success {
		return &domain.BackendError{Kind: domain.ErrServerError, Message: env.Message}
	}
	return nil
}
