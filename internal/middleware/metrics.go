package middleware

import (
	"strings"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/stacktip/custody-bot/internal/bot/handlers"
	"github.com/stacktip/custody-bot/pkg/metrics"
)

// Metrics measures execution time and status for bot handlers, reporting them to Prometheus.
func Metrics(next handlers.Handler) handlers.Handler {
	if next == nil {
		return nil
	}

	return func(c telebot.Context) error {
		start := time.Now()
		err := next(c)

		command := extractCommandName(c)
		status := "ok"
		if err != nil {
			status = "error"
		}

		metrics.RecordCommand(command, status, time.Since(start))

		return err
	}
}

// extractCommandName labels the update with the slash command only. Free text
// and callback payloads stay out of metric labels: flow replies carry seed
// phrases and PINs, and unbounded labels blow up cardinality anyway.
func extractCommandName(c telebot.Context) string {
	if c == nil {
		return "unknown"
	}

	if cb := c.Callback(); cb != nil {
		return "callback"
	}

	text := c.Text()
	if strings.HasPrefix(text, "/") {
		token := text
		if i := strings.IndexByte(token, ' '); i >= 0 {
			token = token[:i]
		}
		if i := strings.IndexByte(token, '@'); i >= 0 {
			token = token[:i]
		}
		return token
	}

	return "text"
}
