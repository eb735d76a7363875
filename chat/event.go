package chat

// Event is a reactive-state push to the UI layer: whichever fields are set
// replace or patch the corresponding client view.
type Event struct {
	// Conversations replaces the whole conversation list.
	Conversations []ConversationSummary `json:"conversations,omitempty"`

	// Timeline replaces the active conversation's message history.
	Timeline *TimelineSnapshot `json:"timeline,omitempty"`

	// Message upserts one entry of the active timeline (append, optimistic
	// confirmation, reaction or status change).
	Message *Message `json:"message,omitempty"`

	// SendFailed reports a rolled-back optimistic send. The content is
	// returned so the caller can restore the input; it is never dropped.
	SendFailed *SendFailure `json:"send_failed,omitempty"`

	// Typing is the set of currently-typing peers in a conversation.
	Typing *TypingEvent `json:"typing,omitempty"`

	// Presence patches one user's online state.
	Presence *Presence `json:"presence,omitempty"`

	// Notice is a lightweight degradation warning (failed reaction write
	// and the like); the optimistic state stays as-is.
	Notice string `json:"notice,omitempty"`
}

type TimelineSnapshot struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
	HasMore        bool      `json:"has_more"`
}

type SendFailure struct {
	TempID         string      `json:"temp_id"`
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	Reason         string      `json:"reason"`
}

type TypingEvent struct {
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
}

// Sink receives events for one signed-in session. Implemented by the
// websocket handler.
type Sink interface {
	Push(ev *Event)
}
