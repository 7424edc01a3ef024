package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	telebot "gopkg.in/telebot.v3"

	"github.com/stacktip/custody-bot/internal/bot/keyboard"
	"github.com/stacktip/custody-bot/internal/repository"
	"github.com/stacktip/custody-bot/internal/transfer"
	"github.com/stacktip/custody-bot/internal/user"
)

const lowBalanceMicro = 1_000_000 // below 1 STX a funding hint is shown

const notRegisteredText = "You don't have a wallet yet. Use /start to create one."

// NewReceiveHandler shows the user's wallet address.
func NewReceiveHandler(repo repository.UserRepository, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil
		}

		u, err := repo.FindByTelegramID(context.Background(), c.Sender().ID)
		if errors.Is(err, repository.ErrNotFound) {
			return c.Send(notRegisteredText)
		}
		if err != nil {
			return err
		}

		return c.Send(
			fmt.Sprintf("📥 Your wallet address:\n`%s`", u.WalletAddress),
			&telebot.SendOptions{ParseMode: telebot.ModeMarkdown},
		)
	}
}

// NewBalanceHandler fetches and shows the on-chain balance.
func NewBalanceHandler(svc *user.Service, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil
		}

		balance, _, err := svc.Balance(context.Background(), c.Sender().ID)
		if errors.Is(err, repository.ErrNotFound) {
			return c.Send(notRegisteredText)
		}
		if err != nil {
			return err
		}

		text := fmt.Sprintf("💰 Balance: *%s STX*", transfer.FormatSTX(balance))
		if balance < lowBalanceMicro {
			text += "\n\nRunning low — see /fund for ways to top up."
		}

		return c.Send(text, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	}
}

// NewFundHandler shows funding instructions with quick-action buttons.
func NewFundHandler(repo repository.UserRepository, kb *keyboard.Builder, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil
		}

		u, err := repo.FindByTelegramID(context.Background(), c.Sender().ID)
		if errors.Is(err, repository.ErrNotFound) {
			return c.Send(notRegisteredText)
		}
		if err != nil {
			return err
		}

		text := fmt.Sprintf(
			"🏦 *Fund your wallet*\n\nSend STX to:\n`%s`\n\n"+
				"Any exchange or wallet that supports STX withdrawals works. Funds appear after the transaction confirms.",
			u.WalletAddress)

		return c.Send(text, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown}, kb.Fund())
	}
}

// HandleFundBalance answers the funding screen's balance button.
func HandleFundBalance(svc *user.Service, log *slog.Logger) CallbackHandler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil
		}

		balance, _, err := svc.Balance(context.Background(), c.Sender().ID)
		if err != nil {
			log.Warn("fund balance check failed", slog.Int64("user_id", c.Sender().ID), slog.Any("error", err))
			return c.Respond(&telebot.CallbackResponse{Text: "Balance unavailable right now."})
		}

		return c.Respond(&telebot.CallbackResponse{
			Text: fmt.Sprintf("Balance: %s STX", transfer.FormatSTX(balance)),
		})
	}
}

// HandleFundRefresh re-renders the funding screen in place.
func HandleFundRefresh(repo repository.UserRepository, kb *keyboard.Builder, log *slog.Logger) CallbackHandler {
	if log == nil {
		log = slog.Default()
	}

	return func(c telebot.Context) error {
		if c.Sender() == nil {
			return nil
		}

		u, err := repo.FindByTelegramID(context.Background(), c.Sender().ID)
		if err != nil {
			return c.Respond(&telebot.CallbackResponse{Text: "Wallet unavailable right now."})
		}

		if err := c.Respond(&telebot.CallbackResponse{}); err != nil {
			log.Warn("callback ack failed", slog.Any("error", err))
		}

		text := fmt.Sprintf("🏦 *Fund your wallet*\n\nSend STX to:\n`%s`", u.WalletAddress)
		return c.Edit(text, &telebot.SendOptions{ParseMode: telebot.ModeMarkdown}, kb.Fund())
	}
}
