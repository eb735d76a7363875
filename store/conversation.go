package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
)

const (
	getConversationSQL    = "SELECT id FROM conversations WHERE user_lo=? AND user_hi=?"
	insertConversationSQL = "INSERT INTO conversations (id, user_lo, user_hi, created_at) VALUES (?,?,?,?)"
	getParticipantsSQL    = "SELECT user_lo, user_hi FROM conversations WHERE id=?"

	// One row per visible conversation for the given user (all five
	// placeholders bind the user id). Unread count and the last-message
	// preview both honor the user's clear cutoff. A deleted conversation
	// stays hidden only until a message newer than the delete marker
	// exists, so new activity resurrects it.
	listConversationsSQL = `
		SELECT c.id, c.created_at,
			u.id, u.name, u.avatar_url, u.affiliation,
			lm.content, lm.kind, lm.created_at,
			(SELECT COUNT(*) FROM messages
				WHERE conversation_id = c.id AND sender_id <> ? AND status <> 'read'
				AND (mk.cleared_at IS NULL OR created_at > mk.cleared_at)),
			COALESCE(p.online, 0), p.last_seen,
			COALESCE(t.typing, 0)
		FROM conversations c
		JOIN users u ON u.id = IF(c.user_lo = ?, c.user_hi, c.user_lo)
		LEFT JOIN chat_markers mk ON mk.user_id = ? AND mk.conversation_id = c.id
		LEFT JOIN presence p ON p.user_id = u.id
		LEFT JOIN typing_status t ON t.conversation_id = c.id AND t.user_id = u.id
		LEFT JOIN messages lm ON lm.id =
			(SELECT id FROM messages
				WHERE conversation_id = c.id
				AND (mk.cleared_at IS NULL OR created_at > mk.cleared_at)
				ORDER BY created_at DESC, id DESC LIMIT 1)
		WHERE (c.user_lo = ? OR c.user_hi = ?)
			AND (COALESCE(mk.deleted, 0) = 0
				OR (lm.created_at IS NOT NULL AND lm.created_at > mk.deleted_at))
		ORDER BY COALESCE(lm.created_at, c.created_at) DESC`

	// Same row shape for a single conversation, without the delete-marker
	// filter: refetching on new activity is exactly how a hidden
	// conversation reappears.
	getSummarySQL = `
		SELECT c.id, c.created_at,
			u.id, u.name, u.avatar_url, u.affiliation,
			lm.content, lm.kind, lm.created_at,
			(SELECT COUNT(*) FROM messages
				WHERE conversation_id = c.id AND sender_id <> ? AND status <> 'read'
				AND (mk.cleared_at IS NULL OR created_at > mk.cleared_at)),
			COALESCE(p.online, 0), p.last_seen,
			COALESCE(t.typing, 0)
		FROM conversations c
		JOIN users u ON u.id = IF(c.user_lo = ?, c.user_hi, c.user_lo)
		LEFT JOIN chat_markers mk ON mk.user_id = ? AND mk.conversation_id = c.id
		LEFT JOIN presence p ON p.user_id = u.id
		LEFT JOIN typing_status t ON t.conversation_id = c.id AND t.user_id = u.id
		LEFT JOIN messages lm ON lm.id =
			(SELECT id FROM messages
				WHERE conversation_id = c.id
				AND (mk.cleared_at IS NULL OR created_at > mk.cleared_at)
				ORDER BY created_at DESC, id DESC LIMIT 1)
		WHERE c.id = ? AND (c.user_lo = ? OR c.user_hi = ?)`
)

// OpenOrCreateConversation returns the conversation id for the unordered user
// pair, creating it on first contact. The unique (user_lo, user_hi) key makes
// concurrent creation from both sides converge on one row.
func (s *Conversations) OpenOrCreateConversation(ctx context.Context, userID, otherUserID string) (string, error) {
	lo, hi := pairKey(userID, otherUserID)

	var id string
	err := s.db.QueryRowContext(ctx, getConversationSQL, lo, hi).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = uuid.New()
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, insertConversationSQL, id, lo, hi, now); err != nil {
		if s.IsDupKeyError(err) {
			// Lost the race to the other participant; their row wins.
			if err := s.db.QueryRowContext(ctx, getConversationSQL, lo, hi).Scan(&id); err != nil {
				return "", err
			}
			return id, nil
		}
		return "", err
	}
	glog.V(5).Infof("store: created conversation %s for (%s, %s)", id, lo, hi)
	return id, nil
}

func (s *Conversations) ListConversations(ctx context.Context, userID string) ([]chat.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, listConversationsSQL, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.ConversationSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	return out, rows.Err()
}

func (s *Conversations) GetConversationSummary(ctx context.Context, conversationID, userID string) (*chat.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, getSummarySQL, userID, userID, userID, conversationID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, chat.ErrNotParticipant
	}
	return scanSummary(rows)
}

func scanSummary(rows *sql.Rows) (*chat.ConversationSummary, error) {
	var (
		sum         chat.ConversationSummary
		lastContent sql.NullString
		lastKind    sql.NullString
		lastAt      sql.NullTime
		lastSeen    sql.NullTime
	)
	if err := rows.Scan(
		&sum.ConversationID, &sum.CreatedAt,
		&sum.Peer.ID, &sum.Peer.Name, &sum.Peer.AvatarURL, &sum.Peer.Affiliation,
		&lastContent, &lastKind, &lastAt,
		&sum.UnreadCount,
		&sum.PeerOnline, &lastSeen,
		&sum.PeerTyping,
	); err != nil {
		return nil, err
	}
	if lastContent.Valid {
		sum.LastMessage = previewText(lastContent.String, lastKind.String)
	}
	if lastAt.Valid {
		sum.LastMessageAt = lastAt.Time
	}
	if lastSeen.Valid {
		sum.PeerLastSeen = lastSeen.Time
	}
	return &sum, nil
}

// participants returns both member ids, or chat.ErrNotParticipant when the
// given user is not one of them.
func (s *Conversations) participants(ctx context.Context, conversationID, userID string) (lo, hi string, err error) {
	err = s.db.QueryRowContext(ctx, getParticipantsSQL, conversationID).Scan(&lo, &hi)
	if err == sql.ErrNoRows {
		return "", "", chat.ErrNotParticipant
	}
	if err != nil {
		return "", "", err
	}
	if lo != userID && hi != userID {
		return "", "", chat.ErrNotParticipant
	}
	return lo, hi, nil
}
