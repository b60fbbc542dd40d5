package alert

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR ALERTS - Telegram notifications for events that need a human
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier pushes operator alerts to a Telegram chat. A nil Notifier is
// valid and sends nothing, so callers never need to guard.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier connects to Telegram, or returns nil when unconfigured.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Operator alerts initialized")
	return &Notifier{api: api, chatID: chatID}, nil
}

// AccountBreached reports a risk breach that force-closed the account.
func (n *Notifier) AccountBreached(accountID, axis string) {
	n.send(fmt.Sprintf(
		"🚨 *Account breached*\nAccount: `%s`\nAxis: %s\nAll positions force-closed.",
		accountID, axis))
}

// Liquidation reports a forced position close at the maintenance threshold.
func (n *Notifier) Liquidation(accountID, symbol string, netPnL decimal.Decimal) {
	n.send(fmt.Sprintf(
		"💥 *Liquidation*\nAccount: `%s`\nSymbol: %s\nNet P&L: %s",
		accountID, symbol, netPnL.StringFixed(2)))
}

// PersistenceDrop reports a persistence queue shedding writes. Dropped
// writes mean the store is diverging from memory and needs attention now.
func (n *Notifier) PersistenceDrop(queue string) {
	n.send(fmt.Sprintf(
		"🔥 *Persistence drop*\nQueue: %s\nStore state is behind memory.", queue))
}

// EvaluationPassed reports a trader completing their evaluation.
func (n *Notifier) EvaluationPassed(accountID string) {
	n.send(fmt.Sprintf("🏆 *Evaluation passed*\nAccount: `%s`", accountID))
}

// Startup announces the engine coming up.
func (n *Notifier) Startup(env string, symbols int) {
	n.send(fmt.Sprintf("✅ Engine up (%s), %d symbols", env, symbols))
}

func (n *Notifier) send(text string) {
	if n == nil {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram alert failed")
	}
}
