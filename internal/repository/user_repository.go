package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stacktip/custody-bot/internal/domain"
)

// ErrNotFound indicates that no user record matched the query.
var ErrNotFound = errors.New("user record not found")

// UserRepository defines persistence operations for custody records.
type UserRepository interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	// ReplaceWallet atomically swaps address, encrypted key blob and PIN
	// verifier for an existing record (wallet reset).
	ReplaceWallet(ctx context.Context, telegramID int64, address, encryptedKey, pinVerifier string) error
	// ReplaceCredentials atomically swaps the encrypted key blob and PIN
	// verifier while keeping the wallet address (PIN recovery).
	ReplaceCredentials(ctx context.Context, telegramID int64, encryptedKey, pinVerifier string) error
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, limit int) ([]*domain.User, error)
}

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}

	return &userRepository{
		db:  db,
		log: log,
	}
}

const userColumns = `id, telegram_id, username, wallet_address, encrypted_private_key, pin_verifier, created_at`

// FindByTelegramID retrieves a custody record by Telegram identifier.
func (r *userRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	return r.scanOne(ctx, query, telegramID)
}

// FindByUsername retrieves a custody record by Telegram username.
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanOne(ctx, query, username)
}

func (r *userRepository) scanOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, query, arg)

	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.TelegramID,
		&user.Username,
		&user.WalletAddress,
		&user.EncryptedPrivateKey,
		&user.PinVerifier,
		&user.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		r.log.Error("failed to fetch user", slog.Any("error", err))
		return nil, fmt.Errorf("select user: %w", err)
	}

	return &user, nil
}

// Create persists a new custody record. This is the single commit point of
// onboarding: if the insert fails, no record exists and the flow may restart.
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	const query = `
		INSERT INTO users (telegram_id, username, wallet_address, encrypted_private_key, pin_verifier, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.TelegramID,
		user.Username,
		user.WalletAddress,
		user.EncryptedPrivateKey,
		user.PinVerifier,
		user.CreatedAt,
	); err != nil {
		r.log.Error("failed to create user", slog.Int64("telegram_id", user.TelegramID), slog.Any("error", err))
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// ReplaceWallet swaps wallet address, key blob and verifier in one statement.
func (r *userRepository) ReplaceWallet(ctx context.Context, telegramID int64, address, encryptedKey, pinVerifier string) error {
	const query = `
		UPDATE users
		SET wallet_address = $2, encrypted_private_key = $3, pin_verifier = $4
		WHERE telegram_id = $1
	`

	return r.exec(ctx, query, telegramID, address, encryptedKey, pinVerifier)
}

// ReplaceCredentials swaps the key blob and verifier, keeping the address.
func (r *userRepository) ReplaceCredentials(ctx context.Context, telegramID int64, encryptedKey, pinVerifier string) error {
	const query = `
		UPDATE users
		SET encrypted_private_key = $2, pin_verifier = $3
		WHERE telegram_id = $1
	`

	return r.exec(ctx, query, telegramID, encryptedKey, pinVerifier)
}

func (r *userRepository) exec(ctx context.Context, query string, telegramID int64, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{telegramID}, args...)...)
	if err != nil {
		r.log.Error("failed to update user", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		return fmt.Errorf("update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Count returns the number of registered users.
func (r *userRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}

	return count, nil
}

// List returns up to limit registered users ordered by registration time.
func (r *userRepository) List(ctx context.Context, limit int) ([]*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(
			&user.ID,
			&user.TelegramID,
			&user.Username,
			&user.WalletAddress,
			&user.EncryptedPrivateKey,
			&user.PinVerifier,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}
