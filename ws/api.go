package ws

import (
	"github.com/GamerOZE123/campus-social-grid-sub000/chat"
)

const (
	ErrorCodeInvalidArguments = 3
	ErrorCodeInternal         = 13
)

// ClientMsg is the JSON envelope the frontend sends; exactly one request
// field is set.
type ClientMsg struct {
	ListConversations *ListConversationsReq `json:"list_conversations,omitempty"`
	Open              *OpenReq              `json:"open,omitempty"`
	Leave             *LeaveReq             `json:"leave,omitempty"`
	Send              *SendReq              `json:"send,omitempty"`
	LoadOlder         *LoadOlderReq         `json:"load_older,omitempty"`
	React             *ReactReq             `json:"react,omitempty"`
	Unreact           *ReactReq             `json:"unreact,omitempty"`
	MarkRead          *MarkReadReq          `json:"mark_read,omitempty"`
	Clear             *ClearReq             `json:"clear,omitempty"`
	Delete            *DeleteReq            `json:"delete,omitempty"`
	Typing            *TypingReq            `json:"typing,omitempty"`
	Presence          *PresenceReq          `json:"presence,omitempty"`
}

type ListConversationsReq struct{}

// OpenReq opens an existing conversation by id, or gets-or-creates the
// conversation with a peer. Exactly one of the two fields is set.
type OpenReq struct {
	ConversationID string `json:"conversation_id,omitempty"`
	PeerID         string `json:"peer_id,omitempty"`
}

type LeaveReq struct{}

type SendReq struct {
	Content  string           `json:"content"`
	Kind     chat.MessageKind `json:"kind,omitempty"`
	ReplyTo  string           `json:"reply_to,omitempty"`
	MediaRef string           `json:"media_ref,omitempty"`
}

type LoadOlderReq struct{}

type ReactReq struct {
	MessageID string            `json:"message_id"`
	Kind      chat.ReactionKind `json:"kind"`
}

type MarkReadReq struct{}

type ClearReq struct{}

type DeleteReq struct {
	ConversationID string `json:"conversation_id"`
}

type TypingReq struct{}

type PresenceReq struct {
	Online      bool   `json:"online"`
	StatusLabel string `json:"status_label,omitempty"`
}

// ServerMsg is the JSON envelope pushed to the frontend: reactive state from
// the engine, or a request error.
type ServerMsg struct {
	Event *chat.Event `json:"event,omitempty"`
	Error *Error      `json:"error,omitempty"`
}

type Error struct {
	Code   int      `json:"code"`
	Params []string `json:"params,omitempty"`
}

func newInvalidArgumentError(errs ...string) *Error {
	return &Error{
		Code:   ErrorCodeInvalidArguments,
		Params: errs,
	}
}

func newInternalError(err string) *Error {
	return &Error{
		Code:   ErrorCodeInternal,
		Params: []string{err},
	}
}

func interceptError(err *Error) {
	if err.Code == ErrorCodeInternal {
		err.Params = []string{"temp storage error"}
	}
}
