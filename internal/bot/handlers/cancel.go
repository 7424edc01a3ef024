package handlers

import (
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/stacktip/custody-bot/internal/flow"
)

// NewCancelHandler aborts the user's active flow, wiping any in-flight
// secrets with it.
func NewCancelHandler(flows *flow.Registry, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Sender() == nil {
			log.Warn("cancel handler invoked without sender context")
			return nil
		}

		if flows.Cancel(c.Sender().ID, "user cancel") {
			return c.Send("Operation cancelled.")
		}

		return c.Send("Nothing to cancel.")
	}
}
