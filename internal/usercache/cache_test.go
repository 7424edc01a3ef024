package usercache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stacktip/custody-bot/internal/domain"
	"github.com/stacktip/custody-bot/internal/repository"
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
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockRepo) ReplaceWallet(ctx context.Context, telegramID int64, address, encryptedKey, pinVerifier string) error {
	args := m.Called(ctx, telegramID, address, encryptedKey, pinVerifier)
	return args.Error(0)
}

func (m *mockRepo) ReplaceCredentials(ctx context.Context, telegramID int64, encryptedKey, pinVerifier string) error {
	args := m.Called(ctx, telegramID, encryptedKey, pinVerifier)
	return args.Error(0)
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

func newResolver(t *testing.T) (*Resolver, *mockRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &mockRepo{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewResolver(repo, client, time.Minute, log), repo, mr
}

func TestResolver_UsernameLookupCached(t *testing.T) {
	r, repo, _ := newResolver(t)
	ctx := context.Background()

	bob := &domain.User{
		TelegramID:          2,
		Username:            "bob",
		WalletAddress:       "SPBOB",
		EncryptedPrivateKey: "aa:bb",
		PinVerifier:         "digest",
	}
	repo.On("FindByUsername", mock.Anything, "bob").Return(bob, nil).Once()

	first, err := r.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "SPBOB", first.WalletAddress)

	// second lookup is served from cache: exactly one repository call
	second, err := r.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.TelegramID)
	assert.Equal(t, "SPBOB", second.WalletAddress)

	// credentials never come out of the cache
	assert.Empty(t, second.EncryptedPrivateKey)
	assert.Empty(t, second.PinVerifier)

	repo.AssertNumberOfCalls(t, "FindByUsername", 1)
}

func TestResolver_NotFoundPassesThrough(t *testing.T) {
	r, repo, _ := newResolver(t)

	repo.On("FindByUsername", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)

	_, err := r.FindByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolver_InvalidateDropsEntry(t *testing.T) {
	r, repo, _ := newResolver(t)
	ctx := context.Background()

	repo.On("FindByUsername", mock.Anything, "bob").
		Return(&domain.User{TelegramID: 2, Username: "bob", WalletAddress: "SPOLD"}, nil).Once()
	repo.On("FindByUsername", mock.Anything, "bob").
		Return(&domain.User{TelegramID: 2, Username: "bob", WalletAddress: "SPNEW"}, nil).Once()

	_, err := r.FindByUsername(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, r.Invalidate(ctx, "bob"))

	u, err := r.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "SPNEW", u.WalletAddress)
	repo.AssertNumberOfCalls(t, "FindByUsername", 2)
}

func TestResolver_IdentityLookupBypassesCache(t *testing.T) {
	r, repo, _ := newResolver(t)

	full := &domain.User{TelegramID: 1, EncryptedPrivateKey: "aa:bb", PinVerifier: "digest"}
	repo.On("FindByTelegramID", mock.Anything, int64(1)).Return(full, nil).Twice()

	for i := 0; i < 2; i++ {
		u, err := r.FindByTelegramID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "aa:bb", u.EncryptedPrivateKey)
	}

	repo.AssertNumberOfCalls(t, "FindByTelegramID", 2)
}

func TestResolver_ExpiredEntryRefetches(t *testing.T) {
	r, repo, mr := newResolver(t)
	ctx := context.Background()

	repo.On("FindByUsername", mock.Anything, "bob").
		Return(&domain.User{TelegramID: 2, Username: "bob", WalletAddress: "SPBOB"}, nil).Twice()

	_, err := r.FindByUsername(ctx, "bob")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = r.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "FindByUsername", 2)
}
