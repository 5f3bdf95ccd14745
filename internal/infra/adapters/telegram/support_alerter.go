package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.SupportAlerter = (*SupportAlerter)(nil)

// Sender is the part of *tgbotapi.BotAPI the alerter needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Formatter renders alert templates. *i18n.Translator satisfies it.
type Formatter interface {
	T(key string, args ...interface{}) string
}

// SupportAlerter posts activation failures to the support chat.
type SupportAlerter struct {
	bot    Sender
	chatID int64
	fmt    Formatter
	log    *zerolog.Logger
}

// NewSupportAlerter connects to the Bot API with token.
func NewSupportAlerter(token string, chatID int64, f Formatter, logger *zerolog.Logger) (*SupportAlerter, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram support chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewSupportAlerterWithSender(bot, chatID, f, logger), nil
}

func NewSupportAlerterWithSender(bot Sender, chatID int64, f Formatter, logger *zerolog.Logger) *SupportAlerter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SupportAlerter{bot: bot, chatID: chatID, fmt: f, log: logger}
}

func (a *SupportAlerter) AlertActivationFailure(ctx context.Context, sessionID, intentID, paymentID, message string) error {
	text := a.fmt.T("alert.activation_failed", sessionID, intentID, paymentID, message)
	return a.send(ctx, text)
}

func (a *SupportAlerter) AlertUnresolved(ctx context.Context, count int, oldest time.Time) error {
	text := a.fmt.T("alert.unresolved_summary", count, oldest.UTC().Format(time.RFC3339))
	return a.send(ctx, text)
}

// send respects ctx only before the call; tgbotapi has no context support.
func (a *SupportAlerter) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		a.log.Error().Err(err).Int64("chat_id", a.chatID).Msg("support alert not delivered")
		return err
	}
	return nil
}
