// Package flow implements the per-user conversational session registry: the
// single dispatch point that routes inbound chat events to the one armed
// continuation of a user's active flow.
package flow

import (
	"sync"
	"time"

	"github.com/stacktip/custody-bot/internal/domain"
	"github.com/stacktip/custody-bot/internal/wallet"
)

// Kind identifies the flow a session belongs to.
type Kind string

const (
	KindOnboarding Kind = "onboarding"
	KindReset      Kind = "reset"
	KindRecovery   Kind = "recovery"
	KindTransfer   Kind = "transfer"
)

// Step names the current position inside a flow's state machine. Steps are
// informational: they feed logs and metrics, routing is done by the armed
// matcher alone.
type Step string

const (
	StepStart              Step = "start"
	StepSeedIssued         Step = "seed_issued"
	StepRetentionChallenge Step = "retention_challenge"
	StepRetentionVerified  Step = "retention_verified"
	StepPinSet             Step = "pin_set"
	StepPinConfirm         Step = "pin_confirm"
	StepCommitted          Step = "committed"

	StepAmountConfirm Step = "amount_confirm"
	StepPinCollect    Step = "pin_collect"
	StepBroadcast     Step = "broadcast"
)

// EventType distinguishes plain messages from inline-button callbacks.
type EventType int

const (
	EventText EventType = iota
	EventCallback
)

// Event is a normalized inbound chat event.
type Event struct {
	Type           EventType
	UserID         int64
	Username       string
	ChatID         int64
	MessageID      int
	Text           string
	CallbackUnique string // decoded callback identifier, empty for text
	ReplyToID      int    // message id this event replies to, 0 if none
}

// Matcher describes the exact next event an armed session accepts. All set
// fields must match; this replaces payload-substring arbitration with typed
// scoping so concurrent flows for different users can never cross-talk.
type Matcher struct {
	UserID         int64
	Type           EventType
	ChatID         int64  // if non-zero, the event must originate in this chat
	MessageID      int    // if non-zero, the event must carry this message id (callback: the tapped message)
	ReplyToID      int    // if non-zero, the event must reply to this message
	CallbackUnique string // if set, the callback identifier must equal this
}

// Matches reports whether ev satisfies the matcher.
func (m Matcher) Matches(ev Event) bool {
	if ev.UserID != m.UserID || ev.Type != m.Type {
		return false
	}
	if m.ChatID != 0 && ev.ChatID != m.ChatID {
		return false
	}
	if m.MessageID != 0 && ev.MessageID != m.MessageID {
		return false
	}
	if m.ReplyToID != 0 && ev.ReplyToID != m.ReplyToID {
		return false
	}
	if m.CallbackUnique != "" && ev.CallbackUnique != m.CallbackUnique {
		return false
	}
	return true
}

// Data holds step-local working state. Everything here lives only in process
// memory; secrets are wiped when the session retires.
type Data struct {
	Username string

	// onboarding / reset / recovery
	Phrase         string
	Account        *wallet.Account
	ChallengeIdx   []int
	ChallengeWords []string
	PendingPin     string
	SeedMessageID  int

	// transfer authorization
	AmountMicro int64
	Recipient   *domain.User
	Sender      *domain.User
	DecryptedKey []byte
	OriginChatID int64
	OriginMsgID  int
	PromptMsgID  int
}

// Wipe clears all secret material from the step data.
func (d *Data) Wipe() {
	d.Phrase = ""
	d.PendingPin = ""
	d.ChallengeWords = nil
	if d.Account != nil {
		zero(d.Account.PrivateKey)
		d.Account = nil
	}
	zero(d.DecryptedKey)
	d.DecryptedKey = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// HandlerFunc consumes the event an armed session was waiting for.
type HandlerFunc func(s *Session, ev Event)

// TimeoutFunc runs when an armed wait's deadline expires. The session is
// already retired and its secrets wiped when it is called.
type TimeoutFunc func(s *Session)

// Session is one in-progress conversational exchange for one user. Owned
// exclusively by the Registry; never persisted.
type Session struct {
	UserID int64
	Kind   Kind
	Data   Data

	mu   sync.Mutex // serializes step handlers for this session
	step Step

	armed     bool
	gen       uint64 // arm generation, guards stale timers
	matcher   Matcher
	handler   HandlerFunc
	onTimeout TimeoutFunc
	timer     *time.Timer

	retired bool
}

// Step returns the session's current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// advance moves the session to the next step and records the transition.
// Caller holds s.mu.
func (s *Session) advance(to Step) {
	transitionRecorder(string(s.step), string(to))
	s.step = to
}

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe step transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}
