package user

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stacktip/custody-bot/internal/domain"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	args := m.Called(ctx, telegramID)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepo) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockRepo) ReplaceWallet(ctx context.Context, telegramID int64, address, encryptedKey, pinVerifier string) error {
	return m.Called(ctx, telegramID, address, encryptedKey, pinVerifier).Error(0)
}

func (m *mockRepo) ReplaceCredentials(ctx context.Context, telegramID int64, encryptedKey, pinVerifier string) error {
	return m.Called(ctx, telegramID, encryptedKey, pinVerifier).Error(0)
}

func (m *mockRepo) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRepo) List(ctx context.Context, limit int) ([]*domain.User, error) {
	args := m.Called(ctx, limit)
	if u := args.Get(0); u != nil {
		return u.([]*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) FetchNonce(ctx context.Context, address string) (uint64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockLedger) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	args := m.Called(ctx, rawTx)
	return args.String(0), args.Error(1)
}

func (m *mockLedger) FetchBalance(ctx context.Context, address string) (int64, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(int64), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_Balance(t *testing.T) {
	repo := new(mockRepo)
	ledgerMock := new(mockLedger)
	svc := NewService(repo, ledgerMock, testLogger())

	u := &domain.User{TelegramID: 7, Username: "alice", WalletAddress: "SPALICE"}
	repo.On("FindByTelegramID", mock.Anything, int64(7)).Return(u, nil)
	ledgerMock.On("FetchBalance", mock.Anything, "SPALICE").Return(int64(2_500_000), nil)

	balance, got, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), balance)
	assert.Equal(t, u, got)
}

func TestService_Leaderboard_SortsAndSkipsFailures(t *testing.T) {
	repo := new(mockRepo)
	ledgerMock := new(mockLedger)
	svc := NewService(repo, ledgerMock, testLogger())

	users := []*domain.User{
		{Username: "alice", WalletAddress: "SPALICE"},
		{Username: "bob", WalletAddress: "SPBOB"},
		{Username: "carol", WalletAddress: "SPCAROL"},
	}
	repo.On("List", mock.Anything, scanLimit).Return(users, nil)
	ledgerMock.On("FetchBalance", mock.Anything, "SPALICE").Return(int64(1_000_000), nil)
	ledgerMock.On("FetchBalance", mock.Anything, "SPBOB").Return(int64(0), errors.New("indexer down"))
	ledgerMock.On("FetchBalance", mock.Anything, "SPCAROL").Return(int64(9_000_000), nil)

	entries, err := svc.Leaderboard(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "carol", entries[0].Username)
	assert.Equal(t, "alice", entries[1].Username)
}

func TestService_Leaderboard_AppliesLimit(t *testing.T) {
	repo := new(mockRepo)
	ledgerMock := new(mockLedger)
	svc := NewService(repo, ledgerMock, testLogger())

	users := []*domain.User{
		{Username: "alice", WalletAddress: "SPALICE"},
		{Username: "bob", WalletAddress: "SPBOB"},
	}
	repo.On("List", mock.Anything, scanLimit).Return(users, nil)
	ledgerMock.On("FetchBalance", mock.Anything, mock.Anything).Return(int64(1), nil)

	entries, err := svc.Leaderboard(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestService_CommunityStats(t *testing.T) {
	repo := new(mockRepo)
	ledgerMock := new(mockLedger)
	svc := NewService(repo, ledgerMock, testLogger())

	users := []*domain.User{
		{Username: "alice", WalletAddress: "SPALICE", PinVerifier: "abc"},
		{Username: "bob", WalletAddress: "SPBOB"},
	}
	repo.On("Count", mock.Anything).Return(int64(42), nil)
	repo.On("List", mock.Anything, scanLimit).Return(users, nil)
	ledgerMock.On("FetchBalance", mock.Anything, "SPALICE").Return(int64(3_000_000), nil)
	ledgerMock.On("FetchBalance", mock.Anything, "SPBOB").Return(int64(1_000_000), nil)

	stats, err := svc.CommunityStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), stats.Users)
	assert.Equal(t, 1, stats.ActiveWallets)
	assert.Equal(t, int64(4_000_000), stats.TotalBalanceMicro)
}
