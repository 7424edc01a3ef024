package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

// Funding-screen callback identifiers.
const (
	CallbackFundBalance = "fund_balance"
	CallbackFundRefresh = "fund_refresh"
)

// Builder produces the bot's inline keyboards.
type Builder struct {
	log *slog.Logger
}

// NewBuilder returns a Builder.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}

	return &Builder{log: log}
}

// Confirm builds a two-button proceed/cancel row with the given callback
// identifiers.
func (b *Builder) Confirm(confirmUnique, cancelUnique string) *telebot.ReplyMarkup {
	return NewInlineKeyboard(b.log).
		AddRow(
			InlineButton{Text: "✅ Confirm", Unique: confirmUnique},
			InlineButton{Text: "❌ Cancel", Unique: cancelUnique},
		).
		Build()
}

// Fund builds the funding-screen shortcuts.
func (b *Builder) Fund() *telebot.ReplyMarkup {
	return NewInlineKeyboard(b.log).
		AddRow(InlineButton{Text: "💰 Check balance", Unique: CallbackFundBalance}).
		AddRow(InlineButton{Text: "🔄 Refresh", Unique: CallbackFundRefresh}).
		Build()
}
