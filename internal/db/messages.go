package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/chatsync/internal/models"
)

// MessageExists reports whether the conversation already has a message with the identity hash.
func MessageExists(ctx context.Context, pool *pgxpool.Pool, conversationID, identityHash string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages WHERE conversation_id = $1 AND identity_hash = $2
		)
	`, conversationID, identityHash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return exists, nil
}

// CreateMessage inserts the message unless one with the same identity already
// exists in the conversation. inserted is false in that case, which is not an error.
func CreateMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) (bool, error) {
	err := pool.QueryRow(ctx, `
		INSERT INTO messages (
			conversation_id,
			identity_hash,
			content,
			sender_label,
			direction,
			is_reply,
			quoted_content,
			platform_timestamp,
			raw_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (conversation_id, identity_hash) DO NOTHING
		RETURNING id, created_at
	`,
		message.ConversationID,
		message.IdentityHash,
		message.Content,
		message.SenderLabel,
		string(message.Direction),
		message.IsReply,
		message.QuotedContent,
		message.PlatformTimestamp,
		message.RawText,
	).Scan(&message.ID, &message.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create message: %w", err)
	}
	return true, nil
}

// ListMessages returns a conversation's messages in platform order, undated ones last.
func ListMessages(ctx context.Context, pool *pgxpool.Pool, conversationID string) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT
			id,
			conversation_id,
			identity_hash,
			content,
			sender_label,
			direction,
			is_reply,
			quoted_content,
			platform_timestamp,
			raw_text,
			created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY platform_timestamp NULLS LAST, created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		var direction string
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.IdentityHash,
			&m.Content,
			&m.SenderLabel,
			&direction,
			&m.IsReply,
			&m.QuotedContent,
			&m.PlatformTimestamp,
			&m.RawText,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Direction = models.Direction(direction)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}
