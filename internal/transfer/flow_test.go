package transfer

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stacktip/custody-bot/internal/custody"
	"github.com/stacktip/custody-bot/internal/domain"
	apperrors "github.com/stacktip/custody-bot/internal/errors"
	"github.com/stacktip/custody-bot/internal/flow"
	"github.com/stacktip/custody-bot/internal/ledger"
	"github.com/stacktip/custody-bot/internal/repository"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "12.5", want: 12_500_000},
		{in: "10", want: 10_000_000},
		{in: "0.000001", want: 1},
		{in: ".5", want: 500_000},
		{in: "2.500000", want: 2_500_000},
		{in: "0", wantErr: true},
		{in: "0.0", wantErr: true},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "+1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "12.", wantErr: true},
		{in: "1,5", wantErr: true},
		{in: "0.1234567", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSTX(t *testing.T) {
	assert.Equal(t, "12.5", FormatSTX(12_500_000))
	assert.Equal(t, "10", FormatSTX(10_000_000))
	assert.Equal(t, "0.005", FormatSTX(5_000))
	assert.Equal(t, "0.000001", FormatSTX(1))
}

type mockMessenger struct {
	mock.Mock
}

func (m *mockMessenger) Send(chatID int64, text string) (int, error) {
	args := m.Called(chatID, text)
	return args.Int(0), args.Error(1)
}

func (m *mockMessenger) SendMarkdown(chatID int64, text string) (int, error) {
	args := m.Called(chatID, text)
	return args.Int(0), args.Error(1)
}

func (m *mockMessenger) Prompt(chatID int64, text string) (int, error) {
	args := m.Called(chatID, text)
	return args.Int(0), args.Error(1)
}

func (m *mockMessenger) SendButtons(chatID int64, text string, buttons ...flow.Button) (int, error) {
	args := m.Called(chatID, text, buttons)
	return args.Int(0), args.Error(1)
}

func (m *mockMessenger) Delete(chatID int64, messageID int) error {
	args := m.Called(chatID, messageID)
	return args.Error(0)
}

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) Issue(ctx context.Context, senderKey []byte, senderAddress, recipientAddress string, amountMicroSTX int64) (string, error) {
	args := m.Called(ctx, senderKey, senderAddress, recipientAddress, amountMicroSTX)
	return args.String(0), args.Error(1)
}

type fakeFinder struct {
	byID   map[int64]*domain.User
	byName map[string]*domain.User
}

func (f *fakeFinder) FindByTelegramID(_ context.Context, telegramID int64) (*domain.User, error) {
	if u, ok := f.byID[telegramID]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeFinder) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	if u, ok := f.byName[username]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

const groupChat = int64(500)

type fixture struct {
	flow   *Flow
	msg    *mockMessenger
	issuer *mockIssuer
	reg    *flow.Registry
	key    []byte
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if cfg.ConfirmDeadline == 0 {
		cfg.ConfirmDeadline = time.Hour
	}
	if cfg.PinDeadline == 0 {
		cfg.PinDeadline = time.Hour
	}

	cipher := custody.NewCipher("server-secret")

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(64 - i)
	}
	blob, err := cipher.Encrypt(key, "13579")
	require.NoError(t, err)

	sender := &domain.User{
		TelegramID:          1,
		Username:            "alice",
		WalletAddress:       "SPSENDER",
		EncryptedPrivateKey: blob,
		PinVerifier:         custody.PinVerifier("13579"),
	}
	recipient := &domain.User{
		TelegramID:    2,
		Username:      "bob",
		WalletAddress: "SPRECIPIENT",
		PinVerifier:   custody.PinVerifier("00001"),
	}

	finder := &fakeFinder{
		byID:   map[int64]*domain.User{1: sender, 2: recipient},
		byName: map[string]*domain.User{"alice": sender, "bob": recipient},
	}

	msg := &mockMessenger{}
	issuer := &mockIssuer{}
	reg := flow.NewRegistry(log)

	return &fixture{
		flow:   NewFlow(reg, msg, finder, cipher, issuer, apperrors.NewHandler(log, false), cfg, log),
		msg:    msg,
		issuer: issuer,
		reg:    reg,
		key:    key,
	}
}

func tipRequest(args ...string) Request {
	return Request{
		Event: flow.Event{
			Type:      flow.EventText,
			UserID:    1,
			ChatID:    groupChat,
			MessageID: 50,
			Username:  "alice",
		},
		Args: args,
	}
}

func pinReply(text string, msgID, replyTo int) flow.Event {
	return flow.Event{
		Type:      flow.EventText,
		UserID:    1,
		ChatID:    1,
		MessageID: msgID,
		Text:      text,
		ReplyToID: replyTo,
	}
}

func callback(unique string, msgID int) flow.Event {
	return flow.Event{Type: flow.EventCallback, UserID: 1, ChatID: groupChat, MessageID: msgID, CallbackUnique: unique}
}

func TestTransfer_BelowThresholdSkipsConfirmation(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Prompt", int64(1), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "2.5 STX") && strings.Contains(s, "@bob")
	})).Return(110, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2.5", "@bob")))

	f.msg.AssertNotCalled(t, "SendButtons", mock.Anything, mock.Anything, mock.Anything)
	f.msg.AssertExpectations(t)

	kind, active := f.reg.Active(1)
	require.True(t, active)
	assert.Equal(t, flow.KindTransfer, kind)
}

func TestTransfer_AboveThresholdCancelMakesNoLedgerCalls(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("SendButtons", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "12.5 STX")
	}), mock.Anything).Return(90, nil).Once()
	f.msg.On("Send", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "cancelled")
	})).Return(91, nil).Once()
	f.msg.On("Delete", groupChat, 90).Return(nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("12.5", "@bob")))

	assert.True(t, f.reg.Deliver(callback(CallbackCancel, 90)))

	assert.Equal(t, 0, f.reg.Count())
	f.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.msg.AssertNotCalled(t, "Prompt", mock.Anything, mock.Anything)
	f.msg.AssertExpectations(t)
}

func TestTransfer_UnrelatedButtonTapIsNotAConfirmationAnswer(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("SendButtons", groupChat, mock.Anything, mock.Anything).Return(90, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("12.5", "@bob")))

	// tap on some other inline keyboard (a funding screen, an old prompt)
	assert.False(t, f.reg.Deliver(callback("fund_balance", 33)))
	assert.False(t, f.reg.Deliver(callback(CallbackCancel, 33)))

	// the flow is still waiting on its own prompt
	assert.Equal(t, 1, f.reg.Count())
	f.msg.On("Delete", groupChat, 90).Return(nil).Once()
	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()
	assert.True(t, f.reg.Deliver(callback(CallbackConfirm, 90)))
}

func TestTransfer_HappyPathAboveThreshold(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("SendButtons", groupChat, mock.Anything, mock.Anything).Return(90, nil).Once()
	f.msg.On("Delete", groupChat, 90).Return(nil).Once()
	f.msg.On("Prompt", int64(1), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "PIN")
	})).Return(110, nil).Once()
	f.msg.On("Delete", int64(1), 200).Return(nil).Once()
	f.msg.On("SendMarkdown", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "@alice sent") && strings.Contains(s, "0xabc")
	})).Return(91, nil).Once()
	f.msg.On("Send", int64(2), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "You received 12.5 STX from @alice")
	})).Return(92, nil).Once()

	f.issuer.On("Issue", mock.Anything, f.key, "SPSENDER", "SPRECIPIENT", int64(12_500_000)).
		Return("0xabc", nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("12.5", "@bob")))
	require.True(t, f.reg.Deliver(callback(CallbackConfirm, 90)))
	require.True(t, f.reg.Deliver(pinReply("13579", 200, 110)))

	assert.Equal(t, 0, f.reg.Count())
	f.issuer.AssertExpectations(t)
	f.msg.AssertExpectations(t)
}

func TestTransfer_ReplyTargetRecipient(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()

	req := tipRequest("1")
	req.ReplyToUserID = 2
	req.ReplyToUsername = "bob"

	require.NoError(t, f.flow.Start(context.Background(), req))

	_, active := f.reg.Active(1)
	assert.True(t, active)
}

func TestTransfer_WrongPinDeniedWithoutLedgerCall(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()
	f.msg.On("Delete", int64(1), 200).Return(nil).Once()
	f.msg.On("Send", int64(1), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "Invalid PIN")
	})).Return(91, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@bob")))

	assert.True(t, f.reg.Deliver(pinReply("00000", 200, 110)))

	assert.Equal(t, 0, f.reg.Count())
	f.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.msg.AssertExpectations(t)
}

func TestTransfer_MalformedPinReprompts(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()
	f.msg.On("Prompt", int64(1), mock.Anything).Return(111, nil).Once()
	f.msg.On("Send", int64(1), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "exactly 5 digits")
	})).Return(91, nil).Once()
	f.msg.On("Delete", int64(1), 200).Return(nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@bob")))

	assert.True(t, f.reg.Deliver(pinReply("123", 200, 110)))
	assert.Equal(t, 1, f.reg.Count())

	// only the new prompt is armed
	assert.False(t, f.reg.Deliver(pinReply("13579", 201, 110)))
}

func TestTransfer_BroadcastFailureNotifiesInitiatorOnly(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()
	f.msg.On("Delete", int64(1), 200).Return(nil).Once()
	f.msg.On("Send", int64(1), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "Transaction failed")
	})).Return(91, nil).Once()

	f.issuer.On("Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", ledger.ErrBroadcastFailed).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@bob")))
	require.True(t, f.reg.Deliver(pinReply("13579", 200, 110)))

	// one attempt, no retry, recipient heard nothing
	f.issuer.AssertNumberOfCalls(t, "Issue", 1)
	f.msg.AssertNotCalled(t, "Send", int64(2), mock.Anything)
	assert.Equal(t, 0, f.reg.Count())
}

func TestTransfer_UnknownRecipientDenied(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Send", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "@stranger is not registered")
	})).Return(91, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@stranger")))

	assert.Equal(t, 0, f.reg.Count())
	f.msg.AssertExpectations(t)
}

func TestTransfer_UnknownSenderDenied(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Send", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "not registered")
	})).Return(91, nil).Once()

	req := tipRequest("2", "@bob")
	req.Event.UserID = 99

	require.NoError(t, f.flow.Start(context.Background(), req))

	assert.Equal(t, 0, f.reg.Count())
}

func TestTransfer_SelfTipRejected(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Send", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "yourself")
	})).Return(91, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@alice")))

	assert.Equal(t, 0, f.reg.Count())
}

func TestTransfer_InvalidAmountDenied(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Send", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "valid amount")
	})).Return(91, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("lots", "@bob")))

	assert.Equal(t, 0, f.reg.Count())
}

func TestTransfer_SecondFlowRejectedWhileArmed(t *testing.T) {
	f := newFixture(t, Config{})

	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()
	f.msg.On("Send", groupChat, mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "already have an operation in progress")
	})).Return(91, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@bob")))
	require.NoError(t, f.flow.Start(context.Background(), tipRequest("3", "@bob")))

	assert.Equal(t, 1, f.reg.Count())
	f.msg.AssertExpectations(t)
}

func TestTransfer_PinTimeoutRetiresSession(t *testing.T) {
	f := newFixture(t, Config{PinDeadline: 30 * time.Millisecond})

	timedOut := make(chan struct{})
	f.msg.On("Prompt", int64(1), mock.Anything).Return(110, nil).Once()
	f.msg.On("Send", int64(1), mock.MatchedBy(func(s string) bool {
		return strings.Contains(s, "Timed out")
	})).Run(func(mock.Arguments) {
		close(timedOut)
	}).Return(91, nil).Once()

	require.NoError(t, f.flow.Start(context.Background(), tipRequest("2", "@bob")))

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout notification never sent")
	}

	assert.Equal(t, 0, f.reg.Count())
	f.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
