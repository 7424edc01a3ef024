// Package user provides read-side wallet queries composed from the record
// store and the ledger API: balances, leaderboard and community totals.
package user

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/stacktip/custody-bot/internal/domain"
	"github.com/stacktip/custody-bot/internal/ledger"
	"github.com/stacktip/custody-bot/internal/repository"
)

// scanLimit caps how many records a single leaderboard or stats request may
// pull balances for. Each entry costs one ledger API call.
const scanLimit = 100

// LeaderboardEntry is one row of the balance leaderboard.
type LeaderboardEntry struct {
	Username     string
	Address      string
	BalanceMicro int64
}

// Stats aggregates community-wide totals.
type Stats struct {
	Users             int64
	ActiveWallets     int
	TotalBalanceMicro int64
}

// Service answers wallet queries.
type Service struct {
	repo   repository.UserRepository
	ledger ledger.Client
	log    *slog.Logger
}

// NewService constructs a Service.
func NewService(repo repository.UserRepository, ledgerClient ledger.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		repo:   repo,
		ledger: ledgerClient,
		log:    log,
	}
}

// Balance returns the on-chain µSTX balance for the user's wallet along with
// the record itself.
func (s *Service) Balance(ctx context.Context, telegramID int64) (int64, *domain.User, error) {
	u, err := s.repo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return 0, nil, err
	}

	balance, err := s.ledger.FetchBalance(ctx, u.WalletAddress)
	if err != nil {
		return 0, u, fmt.Errorf("fetch balance for %s: %w", u.WalletAddress, err)
	}

	return balance, u, nil
}

// Leaderboard returns up to limit users ordered by on-chain balance. Users
// whose balance lookup fails are skipped, not surfaced as errors.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	users, err := s.repo.List(ctx, scanLimit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for _, u := range users {
		balance, err := s.ledger.FetchBalance(ctx, u.WalletAddress)
		if err != nil {
			s.log.Warn("skipping leaderboard entry",
				slog.String("address", u.WalletAddress),
				slog.Any("error", err),
			)
			continue
		}

		entries = append(entries, LeaderboardEntry{
			Username:     u.Username,
			Address:      u.WalletAddress,
			BalanceMicro: balance,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].BalanceMicro > entries[j].BalanceMicro
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// CommunityStats returns registration and balance totals.
func (s *Service) CommunityStats(ctx context.Context) (*Stats, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	users, err := s.repo.List(ctx, scanLimit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	stats := &Stats{Users: count}
	for _, u := range users {
		if u.HasPin() {
			stats.ActiveWallets++
		}

		balance, err := s.ledger.FetchBalance(ctx, u.WalletAddress)
		if err != nil {
			s.log.Warn("skipping balance in stats",
				slog.String("address", u.WalletAddress),
				slog.Any("error", err),
			)
			continue
		}
		stats.TotalBalanceMicro += balance
	}

	return stats, nil
}
