// Package onboarding drives the three custody enrollment flows: first-time
// onboarding with a freshly generated wallet, wallet reset behind a PIN gate,
// and recovery of access from an existing seed phrase. A user record is
// written exactly once, at the final commit step; every earlier exit leaves
// the store untouched.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/stacktip/custody-bot/internal/custody"
	"github.com/stacktip/custody-bot/internal/domain"
	apperrors "github.com/stacktip/custody-bot/internal/errors"
	"github.com/stacktip/custody-bot/internal/flow"
	"github.com/stacktip/custody-bot/internal/repository"
	"github.com/stacktip/custody-bot/internal/wallet"
)

// Config holds the tunables of the enrollment flows.
type Config struct {
	EntropyBits       int
	ChallengeWords    int
	SeedMessageTTL    time.Duration
	ChallengeDeadline time.Duration
	PinDeadline       time.Duration
}

// RecipientCache invalidates cached recipient resolutions after a commit
// changes a user's wallet address. May be nil.
type RecipientCache interface {
	Invalidate(ctx context.Context, username string) error
}

// Flow sequences the enrollment state machines on top of the session registry.
type Flow struct {
	sessions *flow.Registry
	msg      flow.Messenger
	users    repository.UserRepository
	cipher   *custody.Cipher
	deriver  wallet.Deriver
	errs     *apperrors.Handler
	cache    RecipientCache
	cfg      Config
	log      *slog.Logger
}

// NewFlow wires the enrollment flows.
func NewFlow(
	sessions *flow.Registry,
	msg flow.Messenger,
	users repository.UserRepository,
	cipher *custody.Cipher,
	deriver wallet.Deriver,
	errs *apperrors.Handler,
	cache RecipientCache,
	cfg Config,
	log *slog.Logger,
) *Flow {
	if log == nil {
		log = slog.Default()
	}

	if cfg.EntropyBits == 0 {
		cfg.EntropyBits = wallet.DefaultEntropyBits
	}
	if cfg.ChallengeWords == 0 {
		cfg.ChallengeWords = 3
	}
	if cfg.SeedMessageTTL == 0 {
		cfg.SeedMessageTTL = 15 * time.Minute
	}
	if cfg.ChallengeDeadline == 0 {
		cfg.ChallengeDeadline = 5 * time.Minute
	}
	if cfg.PinDeadline == 0 {
		cfg.PinDeadline = 5 * time.Minute
	}

	return &Flow{
		sessions: sessions,
		msg:      msg,
		users:    users,
		cipher:   cipher,
		deriver:  deriver,
		errs:     errs,
		cache:    cache,
		cfg:      cfg,
		log:      log,
	}
}

// StartOnboarding begins first-time enrollment. Rejected when the user already
// holds a wallet: onboarding never overwrites an existing record.
func (f *Flow) StartOnboarding(ctx context.Context, ev flow.Event) error {
	existing, err := f.users.FindByTelegramID(ctx, ev.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return f.deny(ctx, ev.ChatID, apperrors.NewDatabaseError(err))
	}
	if existing != nil {
		_, err := f.msg.Send(ev.ChatID,
			"You already have a wallet. Use /resetwallet to replace it or /recover to restore access from your seed phrase.")
		return err
	}

	s, err := f.sessions.Begin(ev.UserID, flow.KindOnboarding)
	if err != nil {
		return f.rejectBusy(ev.ChatID)
	}
	s.Data.Username = ev.Username

	f.generateAndIssue(s, ev.ChatID)
	return nil
}

// StartReset begins wallet replacement. The current PIN gates the flow so a
// hijacked chat session cannot silently rotate the custodied key.
func (f *Flow) StartReset(ctx context.Context, ev flow.Event) error {
	user, err := f.users.FindByTelegramID(ctx, ev.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		_, serr := f.msg.Send(ev.ChatID, "You don't have a wallet yet. Use /start to create one.")
		return serr
	}
	if err != nil {
		return f.deny(ctx, ev.ChatID, apperrors.NewDatabaseError(err))
	}

	s, err := f.sessions.Begin(ev.UserID, flow.KindReset)
	if err != nil {
		return f.rejectBusy(ev.ChatID)
	}
	s.Data.Username = ev.Username

	promptID, err := f.msg.Prompt(ev.ChatID,
		"⚠️ Resetting creates a brand-new wallet and discards the old key. Reply to this message with your current PIN to continue.")
	if err != nil {
		f.sessions.Abort(s, "reset pin prompt send failed")
		return err
	}

	verifier := user.PinVerifier
	gate := func(s *flow.Session, ev flow.Event) {
		f.deleteQuiet(ev.ChatID, ev.MessageID)

		if !custody.VerifyPin(strings.TrimSpace(ev.Text), verifier) {
			f.fail(s, ev.ChatID, apperrors.NewAuthenticationError(nil))
			return
		}

		f.generateAndIssue(s, ev.ChatID)
	}

	return f.sessions.Arm(s, flow.StepPinCollect,
		flow.Matcher{UserID: ev.UserID, Type: flow.EventText, ChatID: ev.ChatID, ReplyToID: promptID},
		f.cfg.PinDeadline, gate, f.notifyTimeout(ev.ChatID, "wallet reset"))
}

// StartRecovery begins access recovery from an existing seed phrase. The
// derived address must reproduce the stored one; the retention challenge is
// skipped since the user just proved possession of the phrase.
func (f *Flow) StartRecovery(ctx context.Context, ev flow.Event) error {
	user, err := f.users.FindByTelegramID(ctx, ev.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		_, serr := f.msg.Send(ev.ChatID, "No wallet is registered for you. Use /start to create one.")
		return serr
	}
	if err != nil {
		return f.deny(ctx, ev.ChatID, apperrors.NewDatabaseError(err))
	}

	s, err := f.sessions.Begin(ev.UserID, flow.KindRecovery)
	if err != nil {
		return f.rejectBusy(ev.ChatID)
	}
	s.Data.Username = ev.Username

	promptID, err := f.msg.Prompt(ev.ChatID,
		"🔑 Reply to this message with your seed phrase, words separated by spaces. The message is deleted as soon as it is read.")
	if err != nil {
		f.sessions.Abort(s, "recovery phrase prompt send failed")
		return err
	}

	expectedAddress := user.WalletAddress
	verify := func(s *flow.Session, ev flow.Event) {
		f.deleteQuiet(ev.ChatID, ev.MessageID)

		phrase := strings.Join(strings.Fields(ev.Text), " ")
		account, err := f.deriver.Derive(phrase)
		if err != nil || account.Address != expectedAddress {
			// Invalid phrase and valid-but-foreign phrase get the same
			// answer: only address reproduction is confirmed or denied.
			f.fail(s, ev.ChatID, apperrors.NewPhraseMismatchError())
			return
		}

		s.Data.Phrase = phrase
		s.Data.Account = account
		f.promptPin(s, ev.ChatID)
	}

	return f.sessions.Arm(s, flow.StepSeedIssued,
		flow.Matcher{UserID: ev.UserID, Type: flow.EventText, ChatID: ev.ChatID, ReplyToID: promptID},
		f.cfg.ChallengeDeadline, verify, f.notifyTimeout(ev.ChatID, "wallet recovery"))
}

// generateAndIssue derives a fresh wallet and shows the seed phrase.
func (f *Flow) generateAndIssue(s *flow.Session, chatID int64) {
	phrase, err := f.deriver.Generate(f.cfg.EntropyBits)
	if err != nil {
		f.fail(s, chatID, fmt.Errorf("generate seed phrase: %w", err))
		return
	}

	account, err := f.deriver.Derive(phrase)
	if err != nil {
		f.fail(s, chatID, fmt.Errorf("derive wallet: %w", err))
		return
	}

	s.Data.Phrase = phrase
	s.Data.Account = account
	f.issueSeed(s, chatID)
}

func (f *Flow) issueSeed(s *flow.Session, chatID int64) {
	text := fmt.Sprintf(
		"🔐 *Your new wallet*\n\nAddress:\n`%s`\n\nSeed phrase:\n`%s`\n\n"+
			"Write the words down in order and keep them offline. This message self-destructs in %s.",
		s.Data.Account.Address, s.Data.Phrase, f.cfg.SeedMessageTTL)

	msgID, err := f.msg.SendMarkdown(chatID, text)
	if err != nil {
		f.fail(s, chatID, fmt.Errorf("send seed message: %w", err))
		return
	}

	s.Data.SeedMessageID = msgID
	f.scheduleSeedDelete(chatID, msgID)
	f.sendChallenge(s, chatID)
}

// scheduleSeedDelete removes the seed message after the TTL even when the
// user abandons the flow mid-way.
func (f *Flow) scheduleSeedDelete(chatID int64, messageID int) {
	time.AfterFunc(f.cfg.SeedMessageTTL, func() {
		if err := f.msg.Delete(chatID, messageID); err != nil {
			f.log.Warn("seed message auto-delete failed",
				slog.Int64("chat_id", chatID),
				slog.Int("message_id", messageID),
				slog.Any("error", err),
			)
		}
	})
}

func (f *Flow) sendChallenge(s *flow.Session, chatID int64) {
	words := strings.Fields(s.Data.Phrase)
	idx := pickIndices(len(words), f.cfg.ChallengeWords)

	expected := make([]string, len(idx))
	positions := make([]string, len(idx))
	for i, j := range idx {
		expected[i] = words[j]
		positions[i] = fmt.Sprintf("#%d", j+1)
	}
	s.Data.ChallengeIdx = idx
	s.Data.ChallengeWords = expected

	text := fmt.Sprintf(
		"✍️ Prove you saved the phrase: send words %s, in that order, separated by spaces.",
		strings.Join(positions, ", "))
	if _, err := f.msg.Send(chatID, text); err != nil {
		f.fail(s, chatID, fmt.Errorf("send challenge: %w", err))
		return
	}

	err := f.sessions.Arm(s, flow.StepRetentionChallenge,
		flow.Matcher{UserID: s.UserID, Type: flow.EventText, ChatID: chatID},
		f.cfg.ChallengeDeadline, f.verifyChallenge, f.notifyTimeout(chatID, "seed phrase confirmation"))
	if err != nil {
		f.log.Error("failed to arm retention challenge", slog.Int64("user_id", s.UserID), slog.Any("error", err))
	}
}

func (f *Flow) verifyChallenge(s *flow.Session, ev flow.Event) {
	// the reply carries words of the phrase, remove it from the chat
	f.deleteQuiet(ev.ChatID, ev.MessageID)

	tokens := strings.Fields(ev.Text)
	ok := len(tokens) == len(s.Data.ChallengeWords)
	if ok {
		for i := range tokens {
			if tokens[i] != s.Data.ChallengeWords[i] {
				ok = false
				break
			}
		}
	}

	f.deleteQuiet(ev.ChatID, s.Data.SeedMessageID)

	if !ok {
		// any mismatch or malformed reply fails the whole flow, no per-word
		// retries: retrying words one by one would make the challenge
		// brute-forceable
		f.sessions.Abort(s, "retention challenge failed")
		f.send(ev.ChatID, "❌ Wrong words. The wallet was discarded — run /start to begin again.")
		return
	}

	f.promptPin(s, ev.ChatID)
}

func (f *Flow) promptPin(s *flow.Session, chatID int64) {
	promptID, err := f.msg.Prompt(chatID, "🔢 Choose a 5-digit PIN and send it as a reply to this message.")
	if err != nil {
		f.fail(s, chatID, fmt.Errorf("send pin prompt: %w", err))
		return
	}
	s.Data.PromptMsgID = promptID

	err = f.sessions.Arm(s, flow.StepPinSet,
		flow.Matcher{UserID: s.UserID, Type: flow.EventText, ChatID: chatID, ReplyToID: promptID},
		f.cfg.PinDeadline, f.collectPin, f.notifyTimeout(chatID, "PIN setup"))
	if err != nil {
		f.log.Error("failed to arm pin collection", slog.Int64("user_id", s.UserID), slog.Any("error", err))
	}
}

func (f *Flow) collectPin(s *flow.Session, ev flow.Event) {
	// the raw PIN must not stay visible in the chat
	f.deleteQuiet(ev.ChatID, ev.MessageID)

	pin := strings.TrimSpace(ev.Text)
	if !custody.ValidPin(pin) {
		f.send(ev.ChatID, "The PIN must be exactly 5 digits.")
		f.promptPin(s, ev.ChatID)
		return
	}

	s.Data.PendingPin = pin

	promptID, err := f.msg.Prompt(ev.ChatID, "🔁 Repeat the PIN to confirm.")
	if err != nil {
		f.fail(s, ev.ChatID, fmt.Errorf("send pin confirm prompt: %w", err))
		return
	}
	s.Data.PromptMsgID = promptID

	err = f.sessions.Arm(s, flow.StepPinConfirm,
		flow.Matcher{UserID: s.UserID, Type: flow.EventText, ChatID: ev.ChatID, ReplyToID: promptID},
		f.cfg.PinDeadline, f.confirmPin, f.notifyTimeout(ev.ChatID, "PIN confirmation"))
	if err != nil {
		f.log.Error("failed to arm pin confirmation", slog.Int64("user_id", s.UserID), slog.Any("error", err))
	}
}

func (f *Flow) confirmPin(s *flow.Session, ev flow.Event) {
	f.deleteQuiet(ev.ChatID, ev.MessageID)

	if strings.TrimSpace(ev.Text) != s.Data.PendingPin {
		// mismatch cancels the whole flow, not just the PIN sub-step
		f.sessions.Abort(s, "pin confirmation mismatch")
		f.send(ev.ChatID, "❌ The PINs did not match. Setup was cancelled — start over when ready.")
		return
	}

	f.commit(s, ev.ChatID)
}

// commit seals the key under the confirmed PIN and writes the record. The
// store write is the single source of truth: any failure before it completes
// leaves no trace of the new wallet.
func (f *Flow) commit(s *flow.Session, chatID int64) {
	ctx := context.Background()

	blob, err := f.cipher.Encrypt(s.Data.Account.PrivateKey, s.Data.PendingPin)
	if err != nil {
		f.fail(s, chatID, fmt.Errorf("encrypt private key: %w", err))
		return
	}
	verifier := custody.PinVerifier(s.Data.PendingPin)
	address := s.Data.Account.Address

	switch s.Kind {
	case flow.KindReset:
		err = f.users.ReplaceWallet(ctx, s.UserID, address, blob, verifier)
	case flow.KindRecovery:
		err = f.users.ReplaceCredentials(ctx, s.UserID, blob, verifier)
	default:
		err = f.users.Create(ctx, &domain.User{
			TelegramID:          s.UserID,
			Username:            s.Data.Username,
			WalletAddress:       address,
			EncryptedPrivateKey: blob,
			PinVerifier:         verifier,
			CreatedAt:           time.Now().UTC(),
		})
	}
	if err != nil {
		f.fail(s, chatID, apperrors.NewDatabaseError(err))
		return
	}

	if f.cache != nil && s.Data.Username != "" {
		if err := f.cache.Invalidate(ctx, s.Data.Username); err != nil {
			f.log.Warn("recipient cache invalidation failed",
				slog.String("username", s.Data.Username),
				slog.Any("error", err),
			)
		}
	}

	kind := s.Kind
	f.sessions.Finish(s, flow.StepCommitted)

	switch kind {
	case flow.KindRecovery:
		f.send(chatID, "✅ Wallet access restored. Your new PIN is active.")
	default:
		f.sendMarkdown(chatID, fmt.Sprintf(
			"✅ *Wallet ready!*\n\nAddress:\n`%s`\n\nYour PIN now protects every transfer. Try /balance or /receive.",
			address))
	}
}

// pickIndices selects n distinct positions in [0, total) uniformly without
// replacement, returned in ascending order.
func pickIndices(total, n int) []int {
	if n > total {
		n = total
	}

	perm := rand.Perm(total)
	idx := append([]int(nil), perm[:n]...)
	sort.Ints(idx)

	return idx
}

func (f *Flow) notifyTimeout(chatID int64, what string) flow.TimeoutFunc {
	return func(s *flow.Session) {
		msg := f.errs.Handle(context.Background(), apperrors.NewTimeoutError(what))
		f.send(chatID, msg)
	}
}

// fail retires the session and shows the user-facing denial.
func (f *Flow) fail(s *flow.Session, chatID int64, err error) {
	f.sessions.Abort(s, err.Error())
	f.send(chatID, f.errs.Handle(context.Background(), err))
}

// deny reports an error that occurred before any session existed.
func (f *Flow) deny(ctx context.Context, chatID int64, err error) error {
	_, serr := f.msg.Send(chatID, f.errs.Handle(ctx, err))
	return serr
}

func (f *Flow) rejectBusy(chatID int64) error {
	_, err := f.msg.Send(chatID, "⚠️ You already have an operation in progress. Finish it or send /cancel first.")
	return err
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
