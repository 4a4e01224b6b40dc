package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vdavid/chatsync/internal/db"
	"github.com/vdavid/chatsync/internal/models"
	"github.com/vdavid/chatsync/internal/normalize"
)

// cycle is one sync pass over one account.
type cycle struct {
	r       *Reconciler
	account *models.Account
	driver  Driver
	logger  *zap.Logger
	started time.Time
	stats   *models.SyncStats
}

func (c *cycle) initial(ctx context.Context, daysBack int) error {
	extracted, err := c.driver.ListConversations(ctx, daysBack)
	if err != nil {
		return err
	}
	since := c.started.AddDate(0, 0, -daysBack)
	return c.processNew(ctx, extracted, &since)
}

func (c *cycle) incremental(ctx context.Context) error {
	since := c.started.Add(-incrementalFallback)
	if c.account.LastSyncAt != nil {
		since = *c.account.LastSyncAt
	}

	known, err := c.r.store.ListConversations(ctx, c.account.ID)
	if err != nil {
		return err
	}

	// A fresh look at the list gives current platform ids and list positions
	// for known conversations and reveals new ones.
	fresh, err := c.driver.ListConversations(ctx, discoveryDays)
	if err != nil {
		return err
	}
	byKey := make(map[string]models.ExtractedConversation, len(fresh))
	for _, ec := range fresh {
		if key := normalize.CounterpartKey(ec.Title); key != "" {
			if _, dup := byKey[key]; !dup {
				byKey[key] = ec
			}
		}
	}

	for _, conv := range known {
		ec, listed := byKey[conv.CounterpartKey]
		delete(byKey, conv.CounterpartKey)
		if !conv.IsActive {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.stats.ConversationsChecked++

		ref := models.ConversationRef{PlatformID: conv.PlatformConversationID, Title: conv.CounterpartName, Index: -1}
		if listed {
			ref = ec.Ref()
			c.reassociate(ctx, conv, ec)
		}
		if err := c.syncMessages(ctx, conv, ref, &since); err != nil {
			return err
		}
	}

	var unmatched []models.ExtractedConversation
	for _, ec := range fresh {
		key := normalize.CounterpartKey(ec.Title)
		if _, ok := byKey[key]; ok {
			unmatched = append(unmatched, ec)
			delete(byKey, key)
		}
	}
	if len(unmatched) > 0 {
		c.logger.Info("found new conversations", zap.Int("count", len(unmatched)))
	}
	discoverySince := c.started.AddDate(0, 0, -discoveryDays)
	return c.processNew(ctx, unmatched, &discoverySince)
}

// processNew resolves or creates each conversation and pulls its messages.
func (c *cycle) processNew(ctx context.Context, extracted []models.ExtractedConversation, since *time.Time) error {
	for _, ec := range extracted {
		if err := ctx.Err(); err != nil {
			return err
		}
		conv, err := c.resolve(ctx, ec)
		if err != nil {
			return err
		}
		if conv == nil {
			continue
		}
		c.stats.ConversationsProcessed++
		if err := c.syncMessages(ctx, conv, ec.Ref(), since); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds the conversation by counterpart, creating the profile and
// conversation when it is new. It returns nil for untitled conversations.
func (c *cycle) resolve(ctx context.Context, ec models.ExtractedConversation) (*models.Conversation, error) {
	key := normalize.CounterpartKey(ec.Title)
	if key == "" {
		c.logger.Debug("skipping conversation without a counterpart", zap.Int("index", ec.Index))
		return nil, nil
	}

	conv, err := c.r.store.GetConversationByCounterpart(ctx, c.account.ID, key)
	if err == nil {
		c.reassociate(ctx, conv, ec)
		return conv, nil
	}
	if !errors.Is(err, db.ErrConversationNotFound) {
		return nil, err
	}

	profile, created, err := c.r.store.GetOrCreateProfile(ctx, c.account.ID, key, ec.Title, c.started)
	if err != nil {
		return nil, err
	}
	if created {
		c.stats.ProfilesCreated++
	}

	conv = &models.Conversation{
		AccountID:              c.account.ID,
		ProfileID:              profile.ID,
		CounterpartKey:         key,
		CounterpartName:        ec.Title,
		PlatformConversationID: ec.PlatformID,
		LastMessagePreview:     ec.Preview,
		LastMessageAt:          ec.LastMessageAt,
		IsActive:               true,
	}
	err = c.r.store.CreateConversation(ctx, conv)
	if errors.Is(err, db.ErrConversationExists) {
		return c.r.store.GetConversationByCounterpart(ctx, c.account.ID, key)
	}
	if err != nil {
		return nil, err
	}
	c.stats.ConversationsCreated++
	c.logger.Info("created conversation", zap.String("counterpart", ec.Title), zap.String("conversation_id", conv.ID))
	return conv, nil
}

// reassociate brings the stored conversation up to date with what the list
// shows now. Platform ids drift between sessions; synthesized ones never
// replace a stored id.
func (c *cycle) reassociate(ctx context.Context, conv *models.Conversation, ec models.ExtractedConversation) {
	changed := false
	if !ec.Synthesized && ec.PlatformID != "" && ec.PlatformID != conv.PlatformConversationID {
		c.logger.Debug("platform conversation id changed",
			zap.String("conversation_id", conv.ID),
			zap.String("old", conv.PlatformConversationID),
			zap.String("new", ec.PlatformID))
		conv.PlatformConversationID = ec.PlatformID
		changed = true
	}
	if ec.Preview != "" && ec.Preview != conv.LastMessagePreview {
		conv.LastMessagePreview = ec.Preview
		changed = true
	}
	if newer(ec.LastMessageAt, conv.LastMessageAt) {
		conv.LastMessageAt = ec.LastMessageAt
		changed = true
	}
	if !changed {
		return
	}
	if err := c.r.store.UpdateConversation(ctx, conv); err != nil {
		c.logger.Warn("failed to update conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

// syncMessages stores the messages of one conversation that are not stored yet.
func (c *cycle) syncMessages(ctx context.Context, conv *models.Conversation, ref models.ConversationRef, since *time.Time) error {
	extracted, err := c.driver.ListMessages(ctx, ref, since)
	if err != nil {
		return err
	}
	extracted = normalize.Dedupe(extracted, c.logger)

	var latest *models.ExtractedMessage
	added := 0
	for i := range extracted {
		m := &extracted[i]
		if m.Content == "" {
			continue
		}
		exists, err := c.r.store.MessageExists(ctx, conv.ID, m.Identity)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		inserted, err := c.r.store.CreateMessage(ctx, &models.Message{
			ConversationID:    conv.ID,
			IdentityHash:      m.Identity,
			Content:           m.Content,
			SenderLabel:       m.SenderLabel,
			Direction:         m.Direction,
			IsReply:           m.IsReply,
			QuotedContent:     m.QuotedContent,
			PlatformTimestamp: m.Timestamp,
			RawText:           m.RawText,
		})
		if err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}
		if !inserted {
			continue
		}
		added++
		if latest == nil || newer(m.Timestamp, latest.Timestamp) {
			latest = m
		}
	}

	c.stats.MessagesAdded += added
	if added > 0 {
		c.logger.Debug("stored messages", zap.String("conversation_id", conv.ID), zap.Int("count", added))
	}
	if latest != nil && newer(latest.Timestamp, conv.LastMessageAt) {
		conv.LastMessageAt = latest.Timestamp
		conv.LastMessagePreview = latest.Content
		if err := c.r.store.UpdateConversation(ctx, conv); err != nil {
			c.logger.Warn("failed to update conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}
	return nil
}

// newer reports whether a is known and later than b (or b is unknown).
func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}
