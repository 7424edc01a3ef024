package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) FetchNonce(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockClient) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	args := m.Called(ctx, rawTx)
	return args.String(0), args.Error(1)
}

func (m *mockClient) FetchBalance(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

func testKey() []byte {
	key := make([]byte, 32)
	key[31] = 42
	return key
}

func TestIssuer_Issue(t *testing.T) {
	ctx := context.Background()

	mc := &mockClient{}
	mc.On("FetchNonce", mock.Anything, "SPSENDER").Return(uint64(5), nil).Once()
	mc.On("Broadcast", mock.Anything, mock.Anything).Return("0xdeadbeef", nil).Once()

	issuer := NewIssuer(mc, 5000, "STX Tip", nil)

	txID, err := issuer.Issue(ctx, testKey(), "SPSENDER", "SPRECIPIENT", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "0xdeadbeef", txID)
	mc.AssertExpectations(t)
}

func TestIssuer_NonceFailureAbortsBeforeBroadcast(t *testing.T) {
	ctx := context.Background()

	mc := &mockClient{}
	mc.On("FetchNonce", mock.Anything, "SPSENDER").
		Return(uint64(0), ErrNonceUnavailable).Once()

	issuer := NewIssuer(mc, 5000, "STX Tip", nil)

	_, err := issuer.Issue(ctx, testKey(), "SPSENDER", "SPRECIPIENT", 1_000_000)
	require.ErrorIs(t, err, ErrNonceUnavailable)
	mc.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything)
}

func TestIssuer_BroadcastFailureIsTerminal(t *testing.T) {
	ctx := context.Background()

	mc := &mockClient{}
	mc.On("FetchNonce", mock.Anything, "SPSENDER").Return(uint64(5), nil).Once()
	mc.On("Broadcast", mock.Anything, mock.Anything).
		Return("", errors.New("node rejected")).Once()

	issuer := NewIssuer(mc, 5000, "STX Tip", nil)

	_, err := issuer.Issue(ctx, testKey(), "SPSENDER", "SPRECIPIENT", 1_000_000)
	require.Error(t, err)

	// exactly one broadcast attempt, never retried
	mc.AssertNumberOfCalls(t, "Broadcast", 1)
}
