package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/stacktip/custody-bot/internal/transfer"
	"github.com/stacktip/custody-bot/internal/user"
)

const leaderboardSize = 10

// NewLeaderboardHandler shows the top balances.
func NewLeaderboardHandler(svc *user.Service, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		entries, err := svc.Leaderboard(context.Background(), leaderboardSize)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			return c.Send("No wallets yet. Be the first: /start")
		}

		var b strings.Builder
		b.WriteString("🏆 *Leaderboard*\n\n")
		for i, e := range entries {
			name := e.Username
			if name == "" {
				name = shortAddress(e.Address)
			}
			fmt.Fprintf(&b, "%d. %s — %s STX\n", i+1, name, transfer.FormatSTX(e.BalanceMicro))
		}

		return c.Send(b.String(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	}
}

// NewStatsHandler shows community totals.
func NewStatsHandler(svc *user.Service, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		stats, err := svc.CommunityStats(context.Background())
		if err != nil {
			return err
		}

		text := fmt.Sprintf(
			"📊 *Stats*\n\nUsers: %d\nActive wallets: %d\nCombined balance: %s STX",
			stats.Users, stats.ActiveWallets, transfer.FormatSTX(stats.TotalBalanceMicro))

		return c.Send(text, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	}
}

func shortAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
