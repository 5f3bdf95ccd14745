package adapter

import (
	"context"
	"time"
)

// Notifier pushes advisory realtime events to other connected clients/tabs.
// No acknowledgement is expected.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any) error
}

// SupportAlerter escalates charges whose activation failed.
type SupportAlerter interface {
	AlertActivationFailure(ctx context.Context, sessionID, intentID, paymentID, message string) error
	// AlertUnresolved reports how many failed activations still wait for support.
	AlertUnresolved(ctx context.Context, count int, oldest time.Time) error
}

type (
	audienceKey  struct{}
	recipientKey struct{}
)

// WithAudience scopes a notification to one user's connections. A
// notification with neither an audience nor a recipient client is not
// delivered.
func WithAudience(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, audienceKey{}, userID)
}

func Audience(ctx context.Context) string {
	v, _ := ctx.Value(audienceKey{}).(string)
	return v
}

// WithRecipientClient scopes a notification to the browser holding the
// checkout client key. It reaches anonymous checkouts, which have no user.
func WithRecipientClient(ctx context.Context, clientKey string) context.Context {
	if clientKey == "" {
		return ctx
	}
	return context.WithValue(ctx, recipientKey{}, clientKey)
}

func RecipientClient(ctx context.Context) string {
	v, _ := ctx.Value(recipientKey{}).(string)
	return v
}
