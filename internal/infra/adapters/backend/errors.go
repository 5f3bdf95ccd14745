package backend

import (
	"errors"

	"checkout-orchestrator/internal/domain"
)

// asServerError collapses every finalize failure into ErrServerError while
// keeping the backend message.
func asServerError(err error) error {
	var be *domain.BackendError
	if errors.As(err, &be) && !errors.Is(be.Kind, domain.ErrServerError) {
		return &domain.BackendError{Kind: domain.ErrServerError, Status: be.Status, Message: be.Message}
	}
	return err
}
