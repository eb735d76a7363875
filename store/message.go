package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

const (
	// Newest window first, reversed to ascending by the caller. The clear
	// cutoff hides history for this user only. The backfill cursor is a
	// (created_at, id) tuple: rows sharing the boundary millisecond fall on
	// the right side of the page instead of being skipped.
	getMessagesSQL = `
		SELECT m.id, m.sender_id, m.content, m.kind, m.media_ref, m.reply_to, m.status, m.created_at
		FROM messages m
		LEFT JOIN chat_markers mk ON mk.user_id = ? AND mk.conversation_id = m.conversation_id
		WHERE m.conversation_id = ?
			AND (mk.cleared_at IS NULL OR m.created_at > mk.cleared_at)
			AND (? OR m.created_at < ? OR (m.created_at = ? AND m.id < ?))
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`

	insertMessageSQL = `
		INSERT INTO messages (id, conversation_id, sender_id, content, kind, media_ref, reply_to, status, created_at)
		VALUES (?,?,?,?,?,?,?,'sent',?)`

	getReactionsSQL = "SELECT id, message_id, user_id, kind, created_at FROM reactions WHERE message_id IN (%s)"

	markReadSQL = `
		UPDATE messages SET status = 'read'
		WHERE conversation_id = ? AND sender_id <> ? AND status <> 'read'`

	markDeliveredSQL = `
		UPDATE messages SET status = 'delivered'
		WHERE conversation_id = ? AND sender_id <> ? AND status = 'sent'`

	upsertClearMarkerSQL = `
		INSERT INTO chat_markers (user_id, conversation_id, cleared_at) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE cleared_at = VALUES(cleared_at)`

	upsertDeleteMarkerSQL = `
		INSERT INTO chat_markers (user_id, conversation_id, deleted, deleted_at) VALUES (?,?,1,?)
		ON DUPLICATE KEY UPDATE deleted = 1, deleted_at = VALUES(deleted_at)`
)

func (s *Conversations) ListMessages(ctx context.Context, conversationID, userID string, before time.Time, beforeID string, limit int) ([]chat.Message, error) {
	if _, _, err := s.participants(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	noCursor := before.IsZero()
	rows, err := s.db.QueryContext(ctx, getMessagesSQL, userID, conversationID, noCursor, before, before, beforeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			m       chat.Message
			replyTo sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Kind, &m.MediaRef, &replyTo, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ConversationID = conversationID
		m.ReplyTo = replyTo.String
		m.State = chat.SendConfirmed
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into ascending display order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	if err := s.attachReactions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Conversations) attachReactions(ctx context.Context, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	byID := make(map[string]*chat.Message, len(msgs))
	args := make([]interface{}, 0, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
		args = append(args, msgs[i].ID)
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(getReactionsSQL, marks), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r chat.Reaction
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.Kind, &r.CreatedAt); err != nil {
			return err
		}
		if m := byID[r.MessageID]; m != nil {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return rows.Err()
}

// InsertMessage assigns the id and timestamp, persists the row and publishes
// the insert on the feed. Message content is immutable from here on.
func (s *Conversations) InsertMessage(ctx context.Context, m *chat.Message) (string, time.Time, error) {
	if _, _, err := s.participants(ctx, m.ConversationID, m.SenderID); err != nil {
		return "", time.Time{}, err
	}
	id := uuid.New()
	createdAt := time.Now().UTC().Truncate(time.Millisecond)

	// Reply-target validation and the insert share one tx so the target
	// cannot move between the check and the write.
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var replyTo interface{}
		if m.ReplyTo != "" {
			var conv string
			err := tx.QueryRowContext(ctx, "SELECT conversation_id FROM messages WHERE id=?", m.ReplyTo).Scan(&conv)
			if err == sql.ErrNoRows || (err == nil && conv != m.ConversationID) {
				return fmt.Errorf("store: reply target %s is not in conversation %s", m.ReplyTo, m.ConversationID)
			}
			if err != nil {
				return err
			}
			replyTo = m.ReplyTo
		}
		_, err := tx.ExecContext(ctx, insertMessageSQL,
			id, m.ConversationID, m.SenderID, m.Content, m.Kind, m.MediaRef, replyTo, createdAt)
		return err
	})
	if err != nil {
		return "", time.Time{}, err
	}

	saved := *m
	saved.ID = id
	saved.CreatedAt = createdAt
	saved.Status = chat.StatusSent
	saved.State = ""
	saved.Reactions = nil
	s.publish(ctx, feed.TableMessages, feed.OpInsert, &saved, nil)

	glog.V(5).Infof("store: inserted message %s into conversation %s", id, m.ConversationID)
	return id, createdAt, nil
}

// MarkRead is idempotent: the UPDATE only touches rows not yet read, and a
// second call finds nothing to change.
func (s *Conversations) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	return s.advanceStatus(ctx, conversationID, readerID, markReadSQL, chat.StatusRead)
}

func (s *Conversations) MarkDelivered(ctx context.Context, conversationID, recipientID string) (int64, error) {
	return s.advanceStatus(ctx, conversationID, recipientID, markDeliveredSQL, chat.StatusDelivered)
}

func (s *Conversations) advanceStatus(ctx context.Context, conversationID, userID, query string, status chat.DeliveryStatus) (int64, error) {
	if _, _, err := s.participants(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, feed.TableReadMarkers, feed.OpUpdate, &chat.ReadMarker{
			ConversationID: conversationID,
			UserID:         userID,
			Status:         status,
			At:             time.Now().UTC(),
		}, nil)
	}
	return n, nil
}

// ClearConversation hides history at or before the cutoff for this user only.
// There is no un-clear; a later cutoff only ever hides more.
func (s *Conversations) ClearConversation(ctx context.Context, userID, conversationID string, cutoff time.Time) error {
	if _, _, err := s.participants(ctx, conversationID, userID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertClearMarkerSQL, userID, conversationID, cutoff); err != nil {
		return err
	}
	s.publish(ctx, feed.TableChatMarkers, feed.OpUpdate, map[string]interface{}{
		"user_id":         userID,
		"conversation_id": conversationID,
		"cleared_at":      cutoff,
	}, nil)
	return nil
}

// DeleteForUser hides the conversation from this user's list. Deleting does
// NOT clear history: reopening the conversation directly still shows it, and
// any message newer than the marker makes the conversation reappear.
func (s *Conversations) DeleteForUser(ctx context.Context, conversationID, userID string) error {
	if _, _, err := s.participants(ctx, conversationID, userID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, upsertDeleteMarkerSQL, userID, conversationID, now); err != nil {
		return err
	}
	s.publish(ctx, feed.TableChatMarkers, feed.OpUpdate, map[string]interface{}{
		"user_id":         userID,
		"conversation_id": conversationID,
		"deleted":         true,
		"deleted_at":      now,
	}, nil)
	return nil
}
