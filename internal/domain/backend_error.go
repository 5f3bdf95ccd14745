package domain

import "fmt"

// BackendError carries the backend's own message next to the sentinel kind
// (ErrAuthRequired, ErrValidationFailed, ErrServerError) so callers can
// errors.Is on the kind and still surface the message verbatim.
type BackendError struct {
	Kind    error
	Status  int // HTTP status, 0 for transport errors
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

func (e *BackendError) Unwrap() error { return e.Kind }
