package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/chatsync/internal/models"
)

// GetOrCreateProfile returns the account's profile for the counterpart
// username, creating it if needed. created reports whether a row was inserted.
// An existing profile gets its last_seen_at bumped.
func GetOrCreateProfile(ctx context.Context, pool *pgxpool.Pool, accountID, username, displayName string, seenAt time.Time) (*models.Profile, bool, error) {
	var p models.Profile
	var created bool
	err := pool.QueryRow(ctx, `
		INSERT INTO profiles (account_id, username, display_name, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, username) DO UPDATE SET
			last_seen_at = GREATEST(profiles.last_seen_at, EXCLUDED.last_seen_at)
		RETURNING id, account_id, username, display_name, platform_user_id, last_seen_at, created_at, (xmax = 0)
	`, accountID, username, displayName, seenAt).Scan(
		&p.ID,
		&p.AccountID,
		&p.Username,
		&p.DisplayName,
		&p.PlatformUserID,
		&p.LastSeenAt,
		&p.CreatedAt,
		&created,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get or create profile: %w", err)
	}
	return &p, created, nil
}
