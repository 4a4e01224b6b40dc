package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/chatsync/internal/models"
)

// ErrConversationNotFound is returned when a requested conversation cannot be found.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrConversationExists is returned when the account already has a conversation with that counterpart.
var ErrConversationExists = errors.New("conversation already exists")

const conversationColumns = `id, account_id, profile_id, counterpart_key, counterpart_name,
	platform_conversation_id, last_message_preview, last_message_at, is_active, created_at, updated_at`

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID,
		&c.AccountID,
		&c.ProfileID,
		&c.CounterpartKey,
		&c.CounterpartName,
		&c.PlatformConversationID,
		&c.LastMessagePreview,
		&c.LastMessageAt,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationByCounterpart returns the account's conversation with the counterpart key.
func GetConversationByCounterpart(ctx context.Context, pool *pgxpool.Pool, accountID, counterpartKey string) (*models.Conversation, error) {
	c, err := scanConversation(pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE account_id = $1 AND counterpart_key = $2
	`, accountID, counterpartKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts the conversation and fills in its id and timestamps.
func CreateConversation(ctx context.Context, pool *pgxpool.Pool, conv *models.Conversation) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO conversations (
			account_id,
			profile_id,
			counterpart_key,
			counterpart_name,
			platform_conversation_id,
			last_message_preview,
			last_message_at,
			is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`,
		conv.AccountID,
		conv.ProfileID,
		conv.CounterpartKey,
		conv.CounterpartName,
		conv.PlatformConversationID,
		conv.LastMessagePreview,
		conv.LastMessageAt,
		conv.IsActive,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrConversationExists
	}
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// UpdateConversation saves the mutable fields of a conversation. The last
// message time only moves forward.
func UpdateConversation(ctx context.Context, pool *pgxpool.Pool, conv *models.Conversation) error {
	err := pool.QueryRow(ctx, `
		UPDATE conversations
		SET counterpart_name = $2,
			platform_conversation_id = $3,
			last_message_preview = $4,
			last_message_at = GREATEST(last_message_at, $5),
			is_active = $6,
			updated_at = now()
		WHERE id = $1
		RETURNING last_message_at, updated_at
	`,
		conv.ID,
		conv.CounterpartName,
		conv.PlatformConversationID,
		conv.LastMessagePreview,
		conv.LastMessageAt,
		conv.IsActive,
	).Scan(&conv.LastMessageAt, &conv.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	return nil
}

// ListConversations returns the account's conversations, most recent first.
func ListConversations(ctx context.Context, pool *pgxpool.Pool, accountID string) ([]*models.Conversation, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE account_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return conversations, nil
}
