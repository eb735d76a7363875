package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotParticipant reports that the user is not a member of the
	// conversation. Feed events routinely fan out to sessions that cannot
	// see the row, so callers treat this as "drop", not as a failure.
	ErrNotParticipant = errors.New("chat: user is not a participant of the conversation")

	// ErrNoActiveConversation reports a timeline operation with no open
	// conversation.
	ErrNoActiveConversation = errors.New("chat: no active conversation")

	// ErrEmptyMessage rejects a send with neither content nor media.
	ErrEmptyMessage = errors.New("chat: message has no content")

	// ErrBadReactionKind rejects a reaction outside the closed enumeration.
	ErrBadReactionKind = errors.New("chat: unknown reaction kind")
)

// Store is what the engine needs from the durable conversation store.
// Implemented by package store; stubbed in tests.
type Store interface {
	// OpenOrCreateConversation is idempotent per unordered user pair:
	// concurrent calls from both participants converge to the same id.
	OpenOrCreateConversation(ctx context.Context, userID, otherUserID string) (string, error)

	// ListConversations returns the caller's visible conversations ordered
	// by most-recent activity descending. Conversations hidden by a delete
	// marker are excluded.
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)

	// GetConversationSummary returns the list row for one conversation, or
	// ErrNotParticipant.
	GetConversationSummary(ctx context.Context, conversationID, userID string) (*ConversationSummary, error)

	// ListMessages returns messages ascending by time, newest window first:
	// at most limit messages strictly older than the (before, beforeID)
	// cursor (zero before means "latest"). The id breaks timestamp ties so
	// a page boundary inside one millisecond drops nothing. Messages at or
	// before the caller's clear cutoff are excluded.
	ListMessages(ctx context.Context, conversationID, userID string, before time.Time, beforeID string, limit int) ([]Message, error)

	// InsertMessage persists a message and returns the assigned id and
	// timestamp.
	InsertMessage(ctx context.Context, m *Message) (id string, createdAt time.Time, err error)

	// AddReaction upserts; re-adding an existing (message, user, kind) is a
	// no-op. RemoveReaction deletes that exact tuple.
	AddReaction(ctx context.Context, r *Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID string, kind ReactionKind) error

	// MarkRead advances all unread messages addressed to readerID in the
	// conversation to read. Idempotent; returns the number of rows changed.
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)

	// MarkDelivered advances sent messages addressed to recipientID to
	// delivered. Idempotent.
	MarkDelivered(ctx context.Context, conversationID, recipientID string) (int64, error)

	// ClearConversation hides messages at or before the cutoff from userID
	// only. DeleteForUser hides the conversation from userID's list until
	// new activity arrives.
	ClearConversation(ctx context.Context, userID, conversationID string, cutoff time.Time) error
	DeleteForUser(ctx context.Context, conversationID, userID string) error

	UpsertTyping(ctx context.Context, conversationID, userID string, typing bool) error
	UpsertPresence(ctx context.Context, userID string, online bool, statusLabel string) error
}
