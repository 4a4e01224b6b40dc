package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vdavid/chatsync/internal/crypto"
	"github.com/vdavid/chatsync/internal/models"
)

// Store is the persistence used by the sync engine. It seals account
// secrets on the way in and opens them on the way out.
type Store struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

func NewStore(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *Store {
	return &Store{pool: pool, encryptor: encryptor}
}

// CreateAccount stores a new platform account with its password encrypted.
func (s *Store) CreateAccount(ctx context.Context, platform, username, password string) (*models.Account, error) {
	encrypted, err := s.encryptor.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}
	row, err := insertAccount(ctx, s.pool, platform, username, encrypted)
	if err != nil {
		return nil, err
	}
	account := row.Account
	account.Password = password
	return &account, nil
}

// GetAccount returns the account with its password and session decrypted.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row, err := getAccountRow(ctx, s.pool, accountID)
	if err != nil {
		return nil, err
	}

	account := row.Account
	account.Password, err = s.encryptor.Decrypt(row.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt password for account %s: %w", accountID, err)
	}
	if len(row.EncryptedSession) > 0 {
		var blob models.SessionBlob
		if err := s.encryptor.OpenJSON(row.EncryptedSession, &blob); err != nil {
			return nil, fmt.Errorf("failed to decrypt session for account %s: %w", accountID, err)
		}
		account.Session = &blob
	}
	return &account, nil
}

func (s *Store) ListActiveAccountIDs(ctx context.Context) ([]string, error) {
	return ListActiveAccountIDs(ctx, s.pool)
}

func (s *Store) GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error) {
	return GetAccountStatus(ctx, s.pool, accountID)
}

func (s *Store) SetAccountActive(ctx context.Context, accountID string, active bool) error {
	return SetAccountActive(ctx, s.pool, accountID, active)
}

// UpdateAccountSession seals and stores the session blob. A nil blob clears it.
func (s *Store) UpdateAccountSession(ctx context.Context, accountID string, blob *models.SessionBlob) error {
	var sealed []byte
	if blob != nil {
		var err error
		sealed, err = s.encryptor.SealJSON(blob)
		if err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
	}
	return updateAccountSession(ctx, s.pool, accountID, sealed)
}

func (s *Store) UpdateAccountSyncState(ctx context.Context, accountID string, syncedAt time.Time, syncErr string) error {
	return UpdateAccountSyncState(ctx, s.pool, accountID, syncedAt, syncErr)
}

func (s *Store) GetOrCreateProfile(ctx context.Context, accountID, username, displayName string, seenAt time.Time) (*models.Profile, bool, error) {
	return GetOrCreateProfile(ctx, s.pool, accountID, username, displayName, seenAt)
}

func (s *Store) GetConversationByCounterpart(ctx context.Context, accountID, counterpartKey string) (*models.Conversation, error) {
	return GetConversationByCounterpart(ctx, s.pool, accountID, counterpartKey)
}

func (s *Store) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	return CreateConversation(ctx, s.pool, conv)
}

func (s *Store) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	return UpdateConversation(ctx, s.pool, conv)
}

func (s *Store) ListConversations(ctx context.Context, accountID string) ([]*models.Conversation, error) {
	return ListConversations(ctx, s.pool, accountID)
}

func (s *Store) MessageExists(ctx context.Context, conversationID, identityHash string) (bool, error) {
	return MessageExists(ctx, s.pool, conversationID, identityHash)
}

func (s *Store) CreateMessage(ctx context.Context, message *models.Message) (bool, error) {
	return CreateMessage(ctx, s.pool, message)
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	return ListMessages(ctx, s.pool, conversationID)
}
