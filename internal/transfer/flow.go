// Package transfer drives the value-transfer authorization flow: parse the
// request, confirm large amounts, collect the PIN out-of-band, decrypt the
// custodied key in memory and issue exactly one signed transaction. Broadcast
// failures are terminal; a transfer is never retried automatically.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stacktip/custody-bot/internal/custody"
	"github.com/stacktip/custody-bot/internal/domain"
	apperrors "github.com/stacktip/custody-bot/internal/errors"
	"github.com/stacktip/custody-bot/internal/flow"
	"github.com/stacktip/custody-bot/internal/ledger"
	"github.com/stacktip/custody-bot/internal/repository"
	"github.com/stacktip/custody-bot/pkg/metrics"
)

const (
	// CallbackConfirm and CallbackCancel are the decoded identifiers of the
	// large-amount confirmation buttons.
	CallbackConfirm = "tip_confirm"
	CallbackCancel  = "tip_cancel"
)

// Issuer submits one signed transfer. Satisfied by ledger.Issuer.
type Issuer interface {
	Issue(ctx context.Context, senderKey []byte, senderAddress, recipientAddress string, amountMicroSTX int64) (string, error)
}

// UserFinder resolves custody records for senders and recipients. Satisfied
// by the repository and by the cached resolver in front of it.
type UserFinder interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
}

// Config holds the tunables of the authorization flow.
type Config struct {
	// ConfirmThresholdMicro is the µSTX amount at and above which an explicit
	// proceed/cancel confirmation is required before the PIN is collected.
	ConfirmThresholdMicro int64
	ConfirmDeadline       time.Duration
	PinDeadline           time.Duration
}

// Request is a parsed-enough /tip command: the raw arguments plus the
// reply-target identity when the command answers someone's message.
type Request struct {
	Event           flow.Event
	Args            []string
	ReplyToUserID   int64
	ReplyToUsername string
}

// Flow sequences one transfer authorization per sender at a time.
type Flow struct {
	sessions *flow.Registry
	msg      flow.Messenger
	users    UserFinder
	cipher   *custody.Cipher
	issuer   Issuer
	errs     *apperrors.Handler
	cfg      Config
	log      *slog.Logger
}

// NewFlow wires the authorization flow.
func NewFlow(
	sessions *flow.Registry,
	msg flow.Messenger,
	users UserFinder,
	cipher *custody.Cipher,
	issuer Issuer,
	errs *apperrors.Handler,
	cfg Config,
	log *slog.Logger,
) *Flow {
	if log == nil {
		log = slog.Default()
	}

	if cfg.ConfirmThresholdMicro == 0 {
		cfg.ConfirmThresholdMicro = 10 * microPerSTX
	}
	if cfg.ConfirmDeadline == 0 {
		cfg.ConfirmDeadline = 5 * time.Minute
	}
	if cfg.PinDeadline == 0 {
		cfg.PinDeadline = 5 * time.Minute
	}

	return &Flow{
		sessions: sessions,
		msg:      msg,
		users:    users,
		cipher:   cipher,
		issuer:   issuer,
		errs:     errs,
		cfg:      cfg,
		log:      log,
	}
}

// Start parses and validates the request, then either asks for confirmation
// (large amounts) or goes straight to PIN collection. Validation failures
// happen before any session exists and leave no state behind.
func (f *Flow) Start(ctx context.Context, req Request) error {
	ev := req.Event

	if len(req.Args) == 0 {
		_, err := f.msg.Send(ev.ChatID, "Usage: /tip <amount> [@user] — or reply to someone's message with /tip <amount>.")
		return err
	}

	amount, err := ParseAmount(req.Args[0])
	if err != nil {
		return f.deny(ctx, ev.ChatID, apperrors.NewValidationError(
			"malformed transfer amount",
			"❌ That doesn't look like a valid amount. Example: /tip 2.5 @friend"))
	}

	sender, err := f.users.FindByTelegramID(ctx, ev.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return f.deny(ctx, ev.ChatID, apperrors.NewUnknownSenderError())
	}
	if err != nil {
		return f.deny(ctx, ev.ChatID, apperrors.NewDatabaseError(err))
	}

	recipient, handle, err := f.resolveRecipient(ctx, req)
	if err != nil {
		return f.deny(ctx, ev.ChatID, err)
	}
	if recipient.TelegramID == sender.TelegramID {
		_, serr := f.msg.Send(ev.ChatID, "🪞 Sending STX to yourself is a no-op. Pick someone else.")
		return serr
	}

	s, err := f.sessions.Begin(ev.UserID, flow.KindTransfer)
	if err != nil {
		return f.deny(ctx, ev.ChatID, apperrors.NewStateError(
			"transfer rejected: another flow is in progress",
			"⚠️ You already have an operation in progress. Finish it or send /cancel first."))
	}

	s.Data.Username = ev.Username
	s.Data.AmountMicro = amount
	s.Data.Sender = sender
	s.Data.Recipient = recipient
	s.Data.OriginChatID = ev.ChatID
	s.Data.OriginMsgID = ev.MessageID

	if amount >= f.cfg.ConfirmThresholdMicro {
		return f.askConfirmation(s, handle)
	}

	f.promptPin(s)
	return nil
}

func (f *Flow) resolveRecipient(ctx context.Context, req Request) (*domain.User, string, error) {
	if len(req.Args) > 1 && strings.HasPrefix(req.Args[1], "@") {
		handle := strings.TrimPrefix(req.Args[1], "@")
		recipient, err := f.users.FindByUsername(ctx, handle)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, handle, apperrors.NewUnknownRecipientError(handle)
		}
		if err != nil {
			return nil, handle, apperrors.NewDatabaseError(err)
		}
		return recipient, handle, nil
	}

	if req.ReplyToUserID != 0 {
		recipient, err := f.users.FindByTelegramID(ctx, req.ReplyToUserID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, req.ReplyToUsername, apperrors.NewUnknownRecipientError(req.ReplyToUsername)
		}
		if err != nil {
			return nil, req.ReplyToUsername, apperrors.NewDatabaseError(err)
		}
		return recipient, req.ReplyToUsername, nil
	}

	return nil, "", apperrors.NewValidationError(
		"transfer has no recipient",
		"❌ Tell me who to tip: mention them (@user) or reply to their message.")
}

// askConfirmation posts the proceed/cancel buttons and arms for the answer.
// Cancel aborts with zero ledger calls.
func (f *Flow) askConfirmation(s *flow.Session, handle string) error {
	text := fmt.Sprintf("⚠️ You are about to send *%s STX* to @%s. Proceed?",
		FormatSTX(s.Data.AmountMicro), displayHandle(s.Data.Recipient, handle))

	msgID, err := f.msg.SendButtons(s.Data.OriginChatID, text,
		flow.Button{Label: "✅ Confirm", Unique: CallbackConfirm},
		flow.Button{Label: "❌ Cancel", Unique: CallbackCancel},
	)
	if err != nil {
		f.fail(s, s.Data.OriginChatID, fmt.Errorf("send confirmation buttons: %w", err))
		return err
	}
	s.Data.PromptMsgID = msgID

	// scoped to the prompt message: taps on unrelated inline buttons (the
	// funding screen, an older prompt) must not be mistaken for an answer
	return f.sessions.Arm(s, flow.StepAmountConfirm,
		flow.Matcher{UserID: s.UserID, Type: flow.EventCallback, MessageID: msgID},
		f.cfg.ConfirmDeadline, f.handleConfirmation,
		f.notifyTimeout(s.Data.OriginChatID, "transfer confirmation"))
}

func (f *Flow) handleConfirmation(s *flow.Session, ev flow.Event) {
	f.deleteQuiet(s.Data.OriginChatID, s.Data.PromptMsgID)

	if ev.CallbackUnique != CallbackConfirm {
		f.sessions.Abort(s, "transfer cancelled at confirmation")
		f.send(s.Data.OriginChatID, "Transfer cancelled. Nothing was sent.")
		return
	}

	f.promptPin(s)
}

// promptPin asks for the PIN in the sender's private chat, never in the
// group where the command was issued. Only a reply to this exact prompt from
// this user is accepted.
func (f *Flow) promptPin(s *flow.Session) {
	dm := s.UserID

	text := fmt.Sprintf("🔐 Reply to this message with your PIN to authorize sending %s STX to @%s.",
		FormatSTX(s.Data.AmountMicro), displayHandle(s.Data.Recipient, ""))
	promptID, err := f.msg.Prompt(dm, text)
	if err != nil {
		f.fail(s, s.Data.OriginChatID, fmt.Errorf("send pin prompt: %w", err))
		return
	}
	s.Data.PromptMsgID = promptID

	err = f.sessions.Arm(s, flow.StepPinCollect,
		flow.Matcher{UserID: s.UserID, Type: flow.EventText, ChatID: dm, ReplyToID: promptID},
		f.cfg.PinDeadline, f.collectPin, f.notifyTimeout(dm, "transfer authorization"))
	if err != nil {
		f.log.Error("failed to arm pin collection", slog.Int64("user_id", s.UserID), slog.Any("error", err))
	}
}

func (f *Flow) collectPin(s *flow.Session, ev flow.Event) {
	// the raw PIN message is removed whether or not it verifies
	f.deleteQuiet(ev.ChatID, ev.MessageID)

	pin := strings.TrimSpace(ev.Text)
	if !custody.ValidPin(pin) {
		f.send(ev.ChatID, "The PIN must be exactly 5 digits.")
		f.promptPin(s)
		return
	}

	if !custody.VerifyPin(pin, s.Data.Sender.PinVerifier) {
		f.fail(s, ev.ChatID, apperrors.NewAuthenticationError(nil))
		return
	}

	key, err := f.cipher.Decrypt(s.Data.Sender.EncryptedPrivateKey, pin)
	if err != nil {
		// wrong PIN and corrupt blob are logged apart, denied alike
		if errors.Is(err, custody.ErrCorruptRecord) {
			f.fail(s, ev.ChatID, apperrors.NewCorruptRecordError(err))
		} else {
			f.fail(s, ev.ChatID, apperrors.NewAuthenticationError(err))
		}
		return
	}
	s.Data.DecryptedKey = key

	f.broadcast(s, ev.ChatID)
}

// broadcast fetches the nonce, signs and submits exactly once. Failure from
// here on notifies the initiator only: no funds moved for the recipient.
func (f *Flow) broadcast(s *flow.Session, dmChatID int64) {
	ctx := context.Background()

	sender := s.Data.Sender
	recipient := s.Data.Recipient
	amount := s.Data.AmountMicro
	originChat := s.Data.OriginChatID
	senderName := s.Data.Username

	txID, err := f.issuer.Issue(ctx, s.Data.DecryptedKey, sender.WalletAddress, recipient.WalletAddress, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrNonceUnavailable) {
			f.fail(s, dmChatID, apperrors.NewNonceUnavailableError(err))
		} else {
			f.fail(s, dmChatID, apperrors.NewBroadcastError(err))
		}
		metrics.RecordTransfer("failed")
		return
	}

	f.sessions.Finish(s, flow.StepBroadcast)
	metrics.RecordTransfer("broadcast")

	stx := FormatSTX(amount)
	f.sendMarkdown(originChat, fmt.Sprintf("💸 @%s sent *%s STX* to @%s!\n\nTransaction: `%s`",
		displayName(senderName, sender), stx, displayHandle(recipient, ""), txID))

	if recipient.TelegramID != 0 {
		f.send(recipient.TelegramID, fmt.Sprintf("💰 You received %s STX from @%s! Transaction: %s",
			stx, displayName(senderName, sender), txID))
	}
}

func displayHandle(u *domain.User, fallback string) string {
	if u != nil && u.Username != "" {
		return u.Username
	}
	if fallback != "" {
		return fallback
	}
	return "unknown"
}

func displayName(username string, u *domain.User) string {
	if username != "" {
		return username
	}
	return displayHandle(u, "")
}

func (f *Flow) notifyTimeout(chatID int64, what string) flow.TimeoutFunc {
	return func(s *flow.Session) {
		msg := f.errs.Handle(context.Background(), apperrors.NewTimeoutError(what))
		f.send(chatID, msg)
	}
}

func (f *Flow) fail(s *flow.Session, chatID int64, err error) {
	f.sessions.Abort(s, err.Error())
	f.send(chatID, f.errs.Handle(context.Background(), err))
}

func (f *Flow) deny(ctx context.Context, chatID int64, err error) error {
	_, serr := f.msg.Send(chatID, f.errs.Handle(ctx, err))
	return serr
}

func (f *Flow) send(chatID int64, text string) {
	if _, err := f.msg.Send(chatID, text); err != nil {
		f.log.Warn("failed to send message", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (f *Flow) sendMarkdown(chatID int64, text string) {
	if _, err := f.msg.SendMarkdown(chatID, text); err != nil {
		f.log.Warn("failed to send message", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}

func (f *Flow) deleteQuiet(chatID int64, messageID int) {
	if messageID == 0 {
		return
	}

	if err := f.msg.Delete(chatID, messageID); err != nil {
		f.log.Warn("failed to delete message",
			slog.Int64("chat_id", chatID),
			slog.Int("message_id", messageID),
			slog.Any("error", err),
		)
	}
}
