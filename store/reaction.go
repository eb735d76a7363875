package store

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

const (
	insertReactionSQL = "INSERT INTO reactions (id, message_id, user_id, kind, created_at) VALUES (?,?,?,?,?)"
	deleteReactionSQL = "DELETE FROM reactions WHERE message_id=? AND user_id=? AND kind=?"
	getReactionSQL    = "SELECT id, created_at FROM reactions WHERE message_id=? AND user_id=? AND kind=?"
)

// AddReaction is upsert-shaped: the unique (message, user, kind) key turns a
// re-add into a no-op instead of a duplicate row.
func (s *Conversations) AddReaction(ctx context.Context, r *chat.Reaction) error {
	id := uuid.New()
	createdAt := time.Now().UTC()

	if _, err := s.db.ExecContext(ctx, insertReactionSQL, id, r.MessageID, r.UserID, r.Kind, createdAt); err != nil {
		if s.IsDupKeyError(err) {
			glog.V(5).Infof("store: reaction (%s, %s, %s) already held", r.MessageID, r.UserID, r.Kind)
			return nil
		}
		return err
	}

	saved := *r
	saved.ID = id
	saved.CreatedAt = createdAt
	s.publish(ctx, feed.TableReactions, feed.OpInsert, &saved, nil)
	return nil
}

func (s *Conversations) RemoveReaction(ctx context.Context, messageID, userID string, kind chat.ReactionKind) error {
	old := chat.Reaction{MessageID: messageID, UserID: userID, Kind: kind}
	// Best effort: the echo matches by (message, user, kind), the id is
	// informational.
	_ = s.db.QueryRowContext(ctx, getReactionSQL, messageID, userID, kind).Scan(&old.ID, &old.CreatedAt)

	res, err := s.db.ExecContext(ctx, deleteReactionSQL, messageID, userID, kind)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.publish(ctx, feed.TableReactions, feed.OpDelete, nil, &old)
	}
	return nil
}
