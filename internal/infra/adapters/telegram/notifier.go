package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/adapter"
)

var _ adapter.BillingNotifier = (*BillingNotifier)(nil)

// sender is the part of *tgbotapi.BotAPI the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BillingNotifier posts billing alerts to operator chats.
type BillingNotifier struct {
	bot     sender
	chatIDs []int64
	log     *zerolog.Logger
}

func NewBillingNotifier(token string, chatIDs []int64, logger *zerolog.Logger) (*BillingNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newBillingNotifier(bot, chatIDs, logger), nil
}

func newBillingNotifier(bot sender, chatIDs []int64, logger *zerolog.Logger) *BillingNotifier {
	l := logger.With().Str("component", "TelegramNotifier").Logger()
	return &BillingNotifier{bot: bot, chatIDs: chatIDs, log: &l}
}

func (n *BillingNotifier) PaymentFailed(ctx context.Context, sub *model.Subscription, rec *model.BillingRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Payment failed\nsubscription: %s\nuser: %s\nplan: %s\namount: %s %s\nattempt: %d\nreason: %s",
		sub.ID, sub.UserID, sub.Plan, model.FormatCents(rec.Amount), rec.Currency, rec.Attempt, rec.FailureReason)
	if rec.NextRetryAt != nil {
		fmt.Fprintf(&b, "\nnext retry: %s", rec.NextRetryAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	return n.broadcast(ctx, b.String())
}

func (n *BillingNotifier) SubscriptionCanceled(ctx context.Context, sub *model.Subscription) error {
	text := fmt.Sprintf("❌ Subscription canceled\nsubscription: %s\nuser: %s\nplan: %s\nreason: %s",
		sub.ID, sub.UserID, sub.Plan, sub.CancelReason)
	return n.broadcast(ctx, text)
}

func (n *BillingNotifier) broadcast(ctx context.Context, text string) error {
	var errs []error
	for _, id := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			n.log.Warn().Err(err).Int64("chat_id", id).Msg("send failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
