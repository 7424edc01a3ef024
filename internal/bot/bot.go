package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	telebot "gopkg.in/telebot.v3"

	"github.com/stacktip/custody-bot/internal/bot/handlers"
	"github.com/stacktip/custody-bot/internal/bot/keyboard"
	"github.com/stacktip/custody-bot/internal/custody"
	errors "github.com/stacktip/custody-bot/internal/errors"
	"github.com/stacktip/custody-bot/internal/flow"
	"github.com/stacktip/custody-bot/internal/idempotency"
	"github.com/stacktip/custody-bot/internal/middleware"
	"github.com/stacktip/custody-bot/internal/onboarding"
	"github.com/stacktip/custody-bot/internal/repository"
	"github.com/stacktip/custody-bot/internal/transfer"
	"github.com/stacktip/custody-bot/internal/user"
	"github.com/stacktip/custody-bot/internal/usercache"
	"github.com/stacktip/custody-bot/internal/wallet"
	"github.com/stacktip/custody-bot/pkg/config"
)

// Bot wraps telebot.Bot with the custody flows and supporting handlers.
type Bot struct {
	telebot            *telebot.Bot
	log                *slog.Logger
	cfg                config.Config
	flows              *flow.Registry
	onboarding         *onboarding.Flow
	transfers          *transfer.Flow
	router             *Router
	keyboard           *keyboard.Builder
	errHandler         *errors.Handler
	idempotencyManager idempotency.Manager
}

// New builds a telegram bot instance configured according to the application settings.
func New(
	cfg config.Config,
	log *slog.Logger,
	idempotencyManager idempotency.Manager,
	userRepo repository.UserRepository,
	resolver *usercache.Resolver,
	userService *user.Service,
	cipher *custody.Cipher,
	deriver wallet.Deriver,
	issuer transfer.Issuer,
) (*Bot, error) {
	settings := telebot.Settings{
		Token: cfg.Bot.Token,
	}

	if cfg.Bot.Mode == "webhook" {
		settings.Poller = &telebot.Webhook{
			Listen: cfg.Bot.WebhookAddr,
		}
	} else {
		settings.Poller = &telebot.LongPoller{
			Timeout: cfg.Bot.Timeout,
		}
	}

	tb, err := telebot.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("initialize telebot: %w", err)
	}

	kb := keyboard.NewBuilder(log)
	flows := flow.NewRegistry(log)
	router := NewRouter(flows, log)
	errHandler := errors.NewHandler(log, cfg.Sentry.Enabled)
	messenger := NewMessenger(tb, log)

	onboardingFlow := onboarding.NewFlow(
		flows, messenger, userRepo, cipher, deriver, errHandler, resolver,
		onboarding.Config{
			EntropyBits:       cfg.Custody.EntropyBits,
			ChallengeWords:    cfg.Custody.ChallengeWords,
			SeedMessageTTL:    cfg.Custody.SeedMessageTTL,
			ChallengeDeadline: cfg.Custody.ChallengeDeadline,
			PinDeadline:       cfg.Custody.PinDeadline,
		},
		log)

	transferFlow := transfer.NewFlow(
		flows, messenger, resolver, cipher, issuer, errHandler,
		transfer.Config{
			ConfirmThresholdMicro: int64(cfg.Ledger.ConfirmThresholdSTX * 1_000_000),
			PinDeadline:           cfg.Custody.PinDeadline,
		},
		log)

	b := &Bot{
		telebot:            tb,
		log:                log,
		cfg:                cfg,
		flows:              flows,
		onboarding:         onboardingFlow,
		transfers:          transferFlow,
		router:             router,
		keyboard:           kb,
		errHandler:         errHandler,
		idempotencyManager: idempotencyManager,
	}

	b.setupRouter(userRepo, userService, log)
	b.registerTelebotHandlers()

	return b, nil
}

// Start runs the telegram bot event loop.
func (b *Bot) Start() {
	if b.telebot != nil {
		b.telebot.Start()
	}
}

// Stop gracefully stops the telegram bot.
func (b *Bot) Stop() {
	if b.telebot == nil {
		return
	}

	if b.log != nil {
		b.log.Info("stopping telegram bot...")
	}

	b.telebot.Stop()
}

// Telebot exposes the underlying telebot.Bot instance for integrations such as health checks.
func (b *Bot) Telebot() *telebot.Bot {
	return b.telebot
}

// Flows exposes the session registry for shutdown draining.
func (b *Bot) Flows() *flow.Registry {
	return b.flows
}

func (b *Bot) setupRouter(userRepo repository.UserRepository, userService *user.Service, log *slog.Logger) {
	if b.router == nil {
		return
	}

	b.router.Use(RecoveryMiddleware(b.log, b.errHandler))
	b.router.Use(middleware.Idempotency(b.idempotencyManager, b.log))
	b.router.Use(ErrorHandlingMiddleware(b.errHandler))
	b.router.Use(LoggingMiddleware(b.log))
	b.router.Use(middleware.Metrics)

	b.router.RegisterCommand(CommandStart, b.privateOnly(b.newOnboardingHandler()))
	b.router.RegisterCommand(CommandResetWallet, b.privateOnly(b.newResetHandler()))
	b.router.RegisterCommand(CommandRecover, b.privateOnly(b.newRecoveryHandler()))
	b.router.RegisterCommand(CommandTip, b.newTipHandler())
	b.router.RegisterCommand(CommandCancel, handlers.NewCancelHandler(b.flows, log))
	b.router.RegisterCommand(CommandHelp, handlers.NewHelpHandler(b.cfg.Bot.DMLink, log))

	b.router.RegisterCommand(CommandReceive, b.privateOnly(handlers.NewReceiveHandler(userRepo, log)))
	b.router.RegisterCommand(CommandFund, b.privateOnly(handlers.NewFundHandler(userRepo, b.keyboard, log)))

	if userService == nil {
		return
	}

	b.router.RegisterCommand(CommandBalance, b.privateOnly(handlers.NewBalanceHandler(userService, log)))
	b.router.RegisterCommand(CommandLeaderboard, handlers.NewLeaderboardHandler(userService, log))
	b.router.RegisterCommand(CommandStats, handlers.NewStatsHandler(userService, log))

	b.router.RegisterCallback(keyboard.CallbackFundBalance, handlers.HandleFundBalance(userService, log))
	b.router.RegisterCallback(keyboard.CallbackFundRefresh, handlers.HandleFundRefresh(userRepo, b.keyboard, log))
}

func (b *Bot) registerTelebotHandlers() {
	if b.telebot == nil || b.router == nil {
		return
	}

	b.telebot.Handle(telebot.OnText, b.router.Route)
	b.telebot.Handle(telebot.OnCallback, b.router.Route)
}

// privateOnly redirects wallet commands issued in group chats to the DM: seed
// phrases and PINs must never be typed where other members can see them.
func (b *Bot) privateOnly(next handlers.Handler) handlers.Handler {
	dmLink := b.cfg.Bot.DMLink

	return func(c telebot.Context) error {
		if c.Chat() != nil && c.Chat().Type != telebot.ChatPrivate {
			text := "🔒 This command only works in a private chat with me."
			if dmLink != "" {
				text = fmt.Sprintf("🔒 This command only works in a private chat with me: %s", dmLink)
			}
			return c.Send(text)
		}
		return next(c)
	}
}

func (b *Bot) newOnboardingHandler() handlers.Handler {
	return func(c telebot.Context) error {
		return b.onboarding.StartOnboarding(context.Background(), eventFromContext(c))
	}
}

func (b *Bot) newResetHandler() handlers.Handler {
	return func(c telebot.Context) error {
		return b.onboarding.StartReset(context.Background(), eventFromContext(c))
	}
}

func (b *Bot) newRecoveryHandler() handlers.Handler {
	return func(c telebot.Context) error {
		return b.onboarding.StartRecovery(context.Background(), eventFromContext(c))
	}
}

func (b *Bot) newTipHandler() handlers.Handler {
	return func(c telebot.Context) error {
		req := transfer.Request{
			Event: eventFromContext(c),
			Args:  tipArgs(c),
		}

		if msg := c.Message(); msg != nil && msg.ReplyTo != nil && msg.ReplyTo.Sender != nil {
			req.ReplyToUserID = msg.ReplyTo.Sender.ID
			req.ReplyToUsername = msg.ReplyTo.Sender.Username
		}

		return b.transfers.Start(context.Background(), req)
	}
}

// tipArgs returns the tokens after the command itself.
func tipArgs(c telebot.Context) []string {
	fields := strings.Fields(c.Text())
	if len(fields) <= 1 {
		return nil
	}
	return fields[1:]
}
