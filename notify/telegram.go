package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends events to a chat via the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(e Event) error {
	msg := tgbotapi.NewMessage(t.chatID, formatTelegram(e))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatTelegram(e Event) string {
	switch e.Kind {
	case PositionOpened:
		return fmt.Sprintf("🟢 *Position opened*\nToken: `%s`\nAmount: %.4f SOL\nEntry: %.9f",
			e.Token, e.Amount, e.Price)
	case PositionClosed:
		emoji := "✅"
		if e.PnL < 0 {
			emoji = "🔴"
		}
		return fmt.Sprintf("%s *Position closed* (%s)\nToken: `%s`\nExit: %.9f\nPnL: %+.4f SOL",
			emoji, e.Reason, e.Token, e.Price, e.PnL)
	case PartialClose:
		return fmt.Sprintf("💰 *Partial close* (%s)\nToken: `%s`\nAmount: %.4f SOL\nPnL: %+.4f SOL",
			e.Reason, e.Token, e.Amount, e.PnL)
	case TradeRejected:
		return fmt.Sprintf("⚠️ *Trade rejected*\nToken: `%s`\nReason: %s", e.Token, e.Reason)
	case EngineHalted:
		return fmt.Sprintf("🚨 *ENGINE HALTED*\n%s", e.Reason)
	default:
		return e.Text()
	}
}
