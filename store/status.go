package store

import (
	"context"
	"time"

	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

const (
	upsertTypingSQL = `
		INSERT INTO typing_status (conversation_id, user_id, typing, updated_at) VALUES (?,?,?,?)
		ON DUPLICATE KEY UPDATE typing = VALUES(typing), updated_at = VALUES(updated_at)`

	upsertPresenceSQL = `
		INSERT INTO presence (user_id, online, status_label, last_seen) VALUES (?,?,?,?)
		ON DUPLICATE KEY UPDATE online = VALUES(online), status_label = VALUES(status_label), last_seen = VALUES(last_seen)`
)

func (s *Conversations) UpsertTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, upsertTypingSQL, conversationID, userID, typing, now); err != nil {
		return err
	}
	s.publish(ctx, feed.TableTyping, feed.OpUpdate, &chat.TypingState{
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         typing,
		UpdatedAt:      now,
	}, nil)
	return nil
}

// UpsertPresence overwrites the latest-known state; presence is not history.
func (s *Conversations) UpsertPresence(ctx context.Context, userID string, online bool, statusLabel string) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, upsertPresenceSQL, userID, online, statusLabel, now); err != nil {
		return err
	}
	s.publish(ctx, feed.TablePresence, feed.OpUpdate, &chat.Presence{
		UserID:      userID,
		Online:      online,
		StatusLabel: statusLabel,
		LastSeen:    now,
	}, nil)
	return nil
}
