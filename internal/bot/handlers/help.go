package handlers

import (
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"
)

const helpText = `🤖 *STX tip bot*

*Wallet*
/start — create a wallet
/resetwallet — replace your wallet with a fresh one
/recover — restore access from your seed phrase
/receive — show your address
/balance — show your balance
/fund — how to top up

*Tipping*
/tip <amount> [@user] — send STX (or reply to a message with /tip <amount>)

*Other*
/leaderboard — top balances
/stats — community totals
/cancel — abort the current operation

Wallet commands only work in a private chat with me.`

// NewHelpHandler sends the command reference. In group chats it redirects to
// the private chat instead of dumping the full text.
func NewHelpHandler(dmLink string, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Chat() != nil && c.Chat().Type != telebot.ChatPrivate {
			text := "ℹ️ DM me for the full command list."
			if dmLink != "" {
				text = fmt.Sprintf("ℹ️ DM me for the full command list: %s", dmLink)
			}
			return c.Send(text)
		}

		return c.Send(helpText, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	}
}
