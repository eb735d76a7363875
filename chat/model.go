package chat

import "time"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
	KindReply MessageKind = "reply"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindReply:
		return true
	}
	return false
}

// DeliveryStatus is the per-recipient status of a message. The sender's own
// copy renders the recipient-side status.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

func statusRank(s DeliveryStatus) int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	}
	return 0
}

// SendState tracks the local optimistic-send state machine of a message.
// Messages loaded from the store or received from the feed are always confirmed.
type SendState string

const (
	SendPending   SendState = "pending"
	SendConfirmed SendState = "confirmed"
	SendFailed    SendState = "failed"
)

type ReactionKind string

const (
	ReactHeart ReactionKind = "heart"
	ReactLike  ReactionKind = "like"
	ReactLaugh ReactionKind = "laugh"
	ReactWow   ReactionKind = "wow"
	ReactSad   ReactionKind = "sad"
	ReactAngry ReactionKind = "angry"
)

func (k ReactionKind) Valid() bool {
	switch k {
	case ReactHeart, ReactLike, ReactLaugh, ReactWow, ReactSad, ReactAngry:
		return true
	}
	return false
}

// Message content is immutable once created; only Status, State and Reactions
// change afterwards. Ordering is by CreatedAt, ties broken by ID.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	Content        string         `json:"content"`
	Kind           MessageKind    `json:"kind"`
	MediaRef       string         `json:"media_ref,omitempty"`
	ReplyTo        string         `json:"reply_to,omitempty"`
	Status         DeliveryStatus `json:"status"`
	State          SendState      `json:"state,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
}

// Reaction is unique per (message, user, kind). An optimistic local entry has
// an empty ID until the store echo fills it in.
type Reaction struct {
	ID        string       `json:"id,omitempty"`
	MessageID string       `json:"message_id"`
	UserID    string       `json:"user_id"`
	Kind      ReactionKind `json:"kind"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Presence is latest-known-state, not history. It may go stale if a client
// dies without emitting an offline transition.
type Presence struct {
	UserID      string    `json:"user_id"`
	Online      bool      `json:"online"`
	StatusLabel string    `json:"status_label,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
}

type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Typing         bool      `json:"typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReadMarker is published on the feed when a recipient advances message
// statuses in a conversation, so the sender's view can flip its indicators.
type ReadMarker struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Status         DeliveryStatus `json:"status"`
	At             time.Time      `json:"at"`
}

type Peer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

// ConversationSummary is one row of the conversation list. UnreadCount is
// authoritative from the store, never computed locally.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Peer           Peer      `json:"peer"`
	LastMessage    string    `json:"last_message,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	PeerOnline     bool      `json:"peer_online"`
	PeerLastSeen   time.Time `json:"peer_last_seen,omitempty"`
	PeerTyping     bool      `json:"peer_typing"`
	CreatedAt      time.Time `json:"created_at"`
}

// lastActivity orders the conversation list: most recent message first,
// falling back to creation time for empty conversations.
func (s *ConversationSummary) lastActivity() time.Time {
	if !s.LastMessageAt.IsZero() {
		return s.LastMessageAt
	}
	return s.CreatedAt
}
