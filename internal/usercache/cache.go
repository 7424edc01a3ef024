// Package usercache puts a Redis cache in front of username lookups for tip
// recipient resolution. Only resolution fields are cached: the encrypted key
// blob and PIN verifier always come from the record store, so a sender's
// credentials can never be served stale.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/stacktip/custody-bot/internal/domain"
	"github.com/stacktip/custody-bot/internal/repository"
)

const defaultTTL = 2 * time.Minute

// entry is the cached subset of a user record.
type entry struct {
	TelegramID    int64  `json:"telegram_id"`
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address"`
}

// Resolver resolves tip recipients, caching username lookups.
type Resolver struct {
	repo   repository.UserRepository
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewResolver builds a Resolver. A nil Redis client disables caching.
func NewResolver(repo repository.UserRepository, client *redis.Client, ttl time.Duration, log *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}

	return &Resolver{
		repo:   repo,
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// FindByTelegramID always hits the record store: identity lookups return the
// full record including credentials.
func (r *Resolver) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return r.repo.FindByTelegramID(ctx, telegramID)
}

// FindByUsername resolves a handle, serving recent lookups from cache.
func (r *Resolver) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	if cached := r.get(ctx, username); cached != nil {
		return cached, nil
	}

	u, err := r.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	r.set(ctx, u)
	return u, nil
}

// Invalidate drops the cached entry for a handle. Called after reset and
// recovery so a tip never resolves to a replaced wallet address.
func (r *Resolver) Invalidate(ctx context.Context, username string) error {
	if r.client == nil || username == "" {
		return nil
	}

	if err := r.client.Del(ctx, cacheKey(username)).Err(); err != nil {
		return fmt.Errorf("invalidate cached user: %w", err)
	}

	return nil
}

func (r *Resolver) get(ctx context.Context, username string) *domain.User {
	if r.client == nil {
		return nil
	}

	data, err := r.client.Get(ctx, cacheKey(username)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("recipient cache read failed", slog.String("username", username), slog.Any("error", err))
		}
		return nil
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		r.log.Warn("recipient cache entry corrupt", slog.String("username", username), slog.Any("error", err))
		return nil
	}

	return &domain.User{
		TelegramID:    e.TelegramID,
		Username:      e.Username,
		WalletAddress: e.WalletAddress,
	}
}

func (r *Resolver) set(ctx context.Context, u *domain.User) {
	if r.client == nil || u == nil || u.Username == "" {
		return
	}

	payload, err := json.Marshal(entry{
		TelegramID:    u.TelegramID,
		Username:      u.Username,
		WalletAddress: u.WalletAddress,
	})
	if err != nil {
		return
	}

	if err := r.client.Set(ctx, cacheKey(u.Username), payload, r.ttl).Err(); err != nil {
		r.log.Warn("recipient cache write failed", slog.String("username", u.Username), slog.Any("error", err))
	}
}

func cacheKey(username string) string {
	return fmt.Sprintf("recipient:%s", username)
}
