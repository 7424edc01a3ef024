package bot

import (
	"log/slog"
	"strconv"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/stacktip/custody-bot/internal/bot/keyboard"
	"github.com/stacktip/custody-bot/internal/flow"
)

// Messenger adapts telebot to the flow.Messenger contract so the custody
// flows never touch the transport directly.
type Messenger struct {
	bot *telebot.Bot
	log *slog.Logger
}

// NewMessenger wraps a telebot instance.
func NewMessenger(bot *telebot.Bot, log *slog.Logger) *Messenger {
	if log == nil {
		log = slog.Default()
	}

	return &Messenger{bot: bot, log: log}
}

func (m *Messenger) Send(chatID int64, text string) (int, error) {
	msg, err := m.bot.Send(telebot.ChatID(chatID), text)
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *Messenger) SendMarkdown(chatID int64, text string) (int, error) {
	msg, err := m.bot.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

// Prompt sends a force-reply message so the answer can be matched to it.
func (m *Messenger) Prompt(chatID int64, text string) (int, error) {
	msg, err := m.bot.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{
		ReplyMarkup: &telebot.ReplyMarkup{ForceReply: true},
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *Messenger) SendButtons(chatID int64, text string, buttons ...flow.Button) (int, error) {
	kb := keyboard.NewInlineKeyboard(m.log)
	row := make([]keyboard.InlineButton, len(buttons))
	for i, btn := range buttons {
		row[i] = keyboard.InlineButton{Text: btn.Label, Unique: btn.Unique}
	}
	kb.AddRow(row...)

	msg, err := m.bot.Send(telebot.ChatID(chatID), text,
		&telebot.SendOptions{ParseMode: telebot.ModeMarkdown}, kb.Build())
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *Messenger) Delete(chatID int64, messageID int) error {
	return m.bot.Delete(telebot.StoredMessage{
		MessageID: strconv.Itoa(messageID),
		ChatID:    chatID,
	})
}

// eventFromContext normalizes an inbound telebot update for flow delivery.
func eventFromContext(c telebot.Context) flow.Event {
	ev := flow.Event{}

	if sender := c.Sender(); sender != nil {
		ev.UserID = sender.ID
		ev.Username = sender.Username
	}
	if chat := c.Chat(); chat != nil {
		ev.ChatID = chat.ID
	}

	if cb := c.Callback(); cb != nil {
		ev.Type = flow.EventCallback
		ev.CallbackUnique, _ = decodeCallbackData(cb.Data)
		if cb.Message != nil {
			ev.MessageID = cb.Message.ID
		}
		return ev
	}

	ev.Type = flow.EventText
	if msg := c.Message(); msg != nil {
		ev.MessageID = msg.ID
		ev.Text = msg.Text
		if msg.ReplyTo != nil {
			ev.ReplyToID = msg.ReplyTo.ID
		}
	} else {
		ev.Text = c.Text()
	}

	return ev
}

func decodeCallbackData(raw string) (unique, data string) {
	// telebot prefixes callback data it dispatches itself
	raw = strings.TrimPrefix(raw, "\f")

	unique, data, err := keyboard.DecodeCallback(raw)
	if err != nil {
		return "", ""
	}
	return unique, data
}
