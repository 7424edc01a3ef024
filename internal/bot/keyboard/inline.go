package keyboard

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

// InlineButton is a lightweight inline button definition rendered by Build.
type InlineButton struct {
	Text   string
	Unique string // identifier routed to callback handlers
	Data   string // optional payload encoded into callback data
}

// InlineKeyboardBuilder accumulates rows of buttons before rendering telebot
// markup.
type InlineKeyboardBuilder struct {
	rows [][]InlineButton
	log  *slog.Logger
}

// NewInlineKeyboard creates an empty builder.
func NewInlineKeyboard(log *slog.Logger) *InlineKeyboardBuilder {
	if log == nil {
		log = slog.Default()
	}

	return &InlineKeyboardBuilder{
		rows: make([][]InlineButton, 0),
		log:  log,
	}
}

// AddRow appends a row of buttons.
func (b *InlineKeyboardBuilder) AddRow(buttons ...InlineButton) *InlineKeyboardBuilder {
	if len(buttons) == 0 {
		return b
	}

	row := make([]InlineButton, len(buttons))
	copy(row, buttons)
	b.rows = append(b.rows, row)

	return b
}

// Build renders telebot markup. Buttons whose callback data would not fit the
// Telegram limit are skipped and logged.
func (b *InlineKeyboardBuilder) Build() *telebot.ReplyMarkup {
	inline := make([][]telebot.InlineButton, 0, len(b.rows))

	for _, row := range b.rows {
		rendered := make([]telebot.InlineButton, 0, len(row))
		for _, btn := range row {
			payload, err := EncodeCallback(btn.Unique, btn.Data)
			if err != nil {
				b.log.Warn("skipping inline button", slog.String("unique", btn.Unique), slog.Any("error", err))
				continue
			}

			// only Data is set: telebot sends it verbatim, so DecodeCallback
			// sees exactly what EncodeCallback produced
			rendered = append(rendered, telebot.InlineButton{
				Text: btn.Text,
				Data: payload,
			})
		}
		if len(rendered) > 0 {
			inline = append(inline, rendered)
		}
	}

	return &telebot.ReplyMarkup{InlineKeyboard: inline}
}
