package flow

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textEvent(userID int64, text string) Event {
	return Event{Type: EventText, UserID: userID, ChatID: userID, Text: text}
}

func TestRegistry_SecondFlowStartRejected(t *testing.T) {
	r := NewRegistry(testLogger())

	_, err := r.Begin(1, KindOnboarding)
	require.NoError(t, err)

	_, err = r.Begin(1, KindOnboarding)
	assert.ErrorIs(t, err, ErrFlowInProgress)

	_, err = r.Begin(1, KindTransfer)
	assert.ErrorIs(t, err, ErrFlowInProgress)

	// other users are unaffected
	_, err = r.Begin(2, KindOnboarding)
	assert.NoError(t, err)
}

func TestRegistry_DeliverRoutesToArmedSession(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindOnboarding)
	require.NoError(t, err)

	var delivered Event
	err = r.Arm(s, StepRetentionChallenge, Matcher{UserID: 1, Type: EventText}, time.Minute,
		func(s *Session, ev Event) {
			delivered = ev
			r.Finish(s, StepCommitted)
		}, nil)
	require.NoError(t, err)

	// event for a different user is ignored
	assert.False(t, r.Deliver(textEvent(2, "hello")))

	assert.True(t, r.Deliver(textEvent(1, "alpha beta gamma")))
	assert.Equal(t, "alpha beta gamma", delivered.Text)

	// session retired: nothing armed anymore
	assert.False(t, r.Deliver(textEvent(1, "again")))
	_, active := r.Active(1)
	assert.False(t, active)
}

func TestRegistry_MatcherScopesReplyAndCallback(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindTransfer)
	require.NoError(t, err)

	handled := 0
	err = r.Arm(s, StepPinCollect, Matcher{UserID: 1, Type: EventText, ReplyToID: 77}, time.Minute,
		func(s *Session, ev Event) { handled++ }, nil)
	require.NoError(t, err)

	// plain text without the reply target is not consumed
	assert.False(t, r.Deliver(textEvent(1, "13579")))

	ev := textEvent(1, "13579")
	ev.ReplyToID = 77
	assert.True(t, r.Deliver(ev))
	assert.Equal(t, 1, handled)
}

func TestRegistry_CallbackUniqueMatching(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindTransfer)
	require.NoError(t, err)

	var confirmed bool
	err = r.Arm(s, StepAmountConfirm, Matcher{UserID: 1, Type: EventCallback, CallbackUnique: "tip_confirm"}, time.Minute,
		func(s *Session, ev Event) { confirmed = true }, nil)
	require.NoError(t, err)

	wrong := Event{Type: EventCallback, UserID: 1, CallbackUnique: "tip_cancel_other"}
	assert.False(t, r.Deliver(wrong))

	right := Event{Type: EventCallback, UserID: 1, CallbackUnique: "tip_confirm"}
	assert.True(t, r.Deliver(right))
	assert.True(t, confirmed)
}

func TestRegistry_DeadlineExpiryRetiresAndWipes(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindTransfer)
	require.NoError(t, err)

	s.Data.PendingPin = "13579"
	s.Data.DecryptedKey = []byte("raw key material")

	timedOut := make(chan struct{})
	err = r.Arm(s, StepPinCollect, Matcher{UserID: 1, Type: EventText}, 20*time.Millisecond,
		func(s *Session, ev Event) { t.Fatal("handler must not run") },
		func(s *Session) { close(timedOut) })
	require.NoError(t, err)

	select {
	case <-timedOut:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout callback never fired")
	}

	assert.Empty(t, s.Data.PendingPin)
	assert.Nil(t, s.Data.DecryptedKey)

	_, active := r.Active(1)
	assert.False(t, active)

	// retired session cannot be re-armed
	err = r.Arm(s, StepPinCollect, Matcher{UserID: 1, Type: EventText}, time.Minute, func(*Session, Event) {}, nil)
	assert.ErrorIs(t, err, ErrSessionRetired)
}

func TestRegistry_DeliveryCancelsDeadline(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindOnboarding)
	require.NoError(t, err)

	err = r.Arm(s, StepPinSet, Matcher{UserID: 1, Type: EventText}, 30*time.Millisecond,
		func(s *Session, ev Event) { r.Finish(s, StepCommitted) },
		func(s *Session) { t.Error("timeout fired after delivery") })
	require.NoError(t, err)

	assert.True(t, r.Deliver(textEvent(1, "12345")))

	time.Sleep(80 * time.Millisecond)
}

func TestRegistry_CancelClearsSession(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindOnboarding)
	require.NoError(t, err)
	s.Data.Phrase = "secret words here"

	require.NoError(t, r.Arm(s, StepRetentionChallenge, Matcher{UserID: 1, Type: EventText}, time.Minute,
		func(*Session, Event) {}, nil))

	assert.True(t, r.Cancel(1, "user cancel"))
	assert.False(t, r.Cancel(1, "user cancel"))
	assert.Empty(t, s.Data.Phrase)

	// a fresh flow can start immediately
	_, err = r.Begin(1, KindOnboarding)
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentDeliverSingleConsumer(t *testing.T) {
	r := NewRegistry(testLogger())

	s, err := r.Begin(1, KindOnboarding)
	require.NoError(t, err)

	var mu sync.Mutex
	handled := 0
	require.NoError(t, r.Arm(s, StepPinSet, Matcher{UserID: 1, Type: EventText}, time.Minute,
		func(s *Session, ev Event) {
			mu.Lock()
			handled++
			mu.Unlock()
		}, nil))

	var wg sync.WaitGroup
	consumed := 0
	var consumedMu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Deliver(textEvent(1, "12345")) {
				consumedMu.Lock()
				consumed++
				consumedMu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, consumed, "exactly one delivery may consume an armed wait")
	assert.Equal(t, 1, handled)
}

func TestRegistry_DrainRetiresAllSessionsAndWipesSecrets(t *testing.T) {
	r := NewRegistry(testLogger())

	s1, err := r.Begin(1, KindOnboarding)
	require.NoError(t, err)
	s1.Data.Phrase = "abandon ability able"
	s1.Data.PendingPin = "13579"

	s2, err := r.Begin(2, KindTransfer)
	require.NoError(t, err)
	s2.Data.DecryptedKey = []byte{0xAA, 0xBB}

	require.NoError(t, r.Arm(s1, StepPinSet, Matcher{UserID: 1, Type: EventText}, time.Minute,
		func(s *Session, ev Event) {}, nil))

	assert.Equal(t, 2, r.Drain("shutdown"))
	assert.Equal(t, 0, r.Count())

	assert.Empty(t, s1.Data.Phrase)
	assert.Empty(t, s1.Data.PendingPin)
	assert.Equal(t, []byte(nil), s2.Data.DecryptedKey)

	// drained sessions accept nothing
	assert.False(t, r.Deliver(textEvent(1, "13579")))
	assert.Equal(t, 0, r.Drain("nothing left"))

	// users can start over afterwards
	_, err = r.Begin(1, KindOnboarding)
	assert.NoError(t, err)
}
