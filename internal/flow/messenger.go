package flow

// Button is one inline action rendered under an outbound message. Unique is
// the decoded callback identifier delivered back in Event.CallbackUnique.
type Button struct {
	Label  string
	Unique string
}

// Messenger is the outbound side of the chat transport. Flows depend on this
// contract only; the telebot adapter lives in internal/bot.
type Messenger interface {
	// Send posts a plain message and returns its message ID.
	Send(chatID int64, text string) (int, error)

	// SendMarkdown posts a Markdown-formatted message.
	SendMarkdown(chatID int64, text string) (int, error)

	// Prompt posts a force-reply message so the next answer can be scoped to
	// it. Used for PIN and phrase collection.
	Prompt(chatID int64, text string) (int, error)

	// SendButtons posts a message with one row of inline buttons.
	SendButtons(chatID int64, text string, buttons ...Button) (int, error)

	// Delete removes a message. Callers treat failures as best-effort.
	Delete(chatID int64, messageID int) error
}
