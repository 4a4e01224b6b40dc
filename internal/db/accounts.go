package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/chatsync/internal/models"
)

// ErrAccountNotFound is returned when a requested account cannot be found.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when the platform already has an account with that username.
var ErrAccountExists = errors.New("account already exists")

// accountRow is an account as stored, with its secrets still sealed.
type accountRow struct {
	models.Account
	EncryptedSession []byte
}

const accountColumns = `id, platform, username, encrypted_password, encrypted_session, is_active,
	last_sync_at, last_error, error_count, created_at, updated_at`

func scanAccount(row pgx.Row) (*accountRow, error) {
	var a accountRow
	err := row.Scan(
		&a.ID,
		&a.Platform,
		&a.Username,
		&a.EncryptedPassword,
		&a.EncryptedSession,
		&a.IsActive,
		&a.LastSyncAt,
		&a.LastError,
		&a.ErrorCount,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func insertAccount(ctx context.Context, pool *pgxpool.Pool, platform, username string, encryptedPassword []byte) (*accountRow, error) {
	a, err := scanAccount(pool.QueryRow(ctx, `
		INSERT INTO platform_accounts (platform, username, encrypted_password)
		VALUES ($1, $2, $3)
		RETURNING `+accountColumns,
		platform, username, encryptedPassword,
	))
	if isUniqueViolation(err) {
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

func getAccountRow(ctx context.Context, pool *pgxpool.Pool, accountID string) (*accountRow, error) {
	a, err := scanAccount(pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM platform_accounts
		WHERE id = $1
	`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListActiveAccountIDs returns the ids of every active account, oldest first.
func ListActiveAccountIDs(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `
		SELECT id
		FROM platform_accounts
		WHERE is_active
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan account ids: %w", err)
	}
	return ids, nil
}

func updateAccountSession(ctx context.Context, pool *pgxpool.Pool, accountID string, encryptedSession []byte) error {
	tag, err := pool.Exec(ctx, `
		UPDATE platform_accounts
		SET encrypted_session = $2, updated_at = now()
		WHERE id = $1
	`, accountID, encryptedSession)
	if err != nil {
		return fmt.Errorf("failed to update account session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateAccountSyncState records the outcome of a sync cycle. A cycle that
// succeeded (syncErr == "") moves last_sync_at forward, never backward, and
// clears the error counters. A failed one leaves last_sync_at alone.
func UpdateAccountSyncState(ctx context.Context, pool *pgxpool.Pool, accountID string, syncedAt time.Time, syncErr string) error {
	var query string
	args := []any{accountID}
	if syncErr == "" {
		query = `
			UPDATE platform_accounts
			SET last_sync_at = GREATEST(COALESCE(last_sync_at, $2), $2),
				last_error = '',
				error_count = 0,
				updated_at = now()
			WHERE id = $1`
		args = append(args, syncedAt)
	} else {
		query = `
			UPDATE platform_accounts
			SET last_error = $2,
				error_count = error_count + 1,
				updated_at = now()
			WHERE id = $1`
		args = append(args, syncErr)
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account sync state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetAccountActive turns scheduled syncing for an account on or off.
func SetAccountActive(ctx context.Context, pool *pgxpool.Pool, accountID string, active bool) error {
	tag, err := pool.Exec(ctx, `
		UPDATE platform_accounts
		SET is_active = $2, updated_at = now()
		WHERE id = $1
	`, accountID, active)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// GetAccountStatus returns the public sync status of an account with its
// conversation and message totals.
func GetAccountStatus(ctx context.Context, pool *pgxpool.Pool, accountID string) (*models.AccountStatus, error) {
	var s models.AccountStatus
	err := pool.QueryRow(ctx, `
		SELECT
			a.id,
			a.platform,
			a.username,
			a.is_active,
			a.last_sync_at,
			a.last_error,
			a.error_count,
			a.encrypted_session IS NOT NULL,
			(SELECT COUNT(*) FROM conversations c WHERE c.account_id = a.id),
			(SELECT COUNT(*)
			 FROM messages m
			 INNER JOIN conversations c ON c.id = m.conversation_id
			 WHERE c.account_id = a.id)
		FROM platform_accounts a
		WHERE a.id = $1
	`, accountID).Scan(
		&s.ID,
		&s.Platform,
		&s.Username,
		&s.IsActive,
		&s.LastSyncAt,
		&s.LastError,
		&s.ErrorCount,
		&s.HasSession,
		&s.ConversationCount,
		&s.MessageCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account status: %w", err)
	}
	return &s, nil
}
