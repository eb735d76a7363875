// Package chat is the realtime conversation engine for one signed-in user:
// it keeps the conversation list, the active message timeline and the
// typing/presence sets as an eventually-consistent projection of the store,
// reconciled on every change-feed event.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
)

const DefaultPageSize = 50

type Config struct {
	// PageSize is the timeline window size for initial load and backfill.
	PageSize int
	// TypingIdle is the typing auto-clear window.
	TypingIdle time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.TypingIdle <= 0 {
		c.TypingIdle = DefaultTypingIdle
	}
	return c
}

// Session is the engine for one signed-in user. All store operations return
// promptly or run in the background; user-triggered mutations apply
// optimistically before the round-trip completes.
//
// The feed subscription is one per session and stable across conversation
// switches; the active conversation is a mutable cell the feed handler reads
// fresh on every event.
type Session struct {
	userID  string
	store   Store
	sink    Sink
	cfg     Config
	emitter *TypingEmitter

	mu     sync.Mutex
	active string // active conversation id, "" when none open
	epoch  int64  // bumped on every switch; guards in-flight loads
	tl     timeline
	list   listState
	typing typingSet
}

func NewSession(userID string, store Store, sink Sink, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		userID: userID,
		store:  store,
		sink:   sink,
		cfg:    cfg,
	}
	s.emitter = NewTypingEmitter(store, userID, cfg.TypingIdle, func(err error) {
		s.notice("typing state not synced")
	})
	return s
}

func (s *Session) UserID() string { return s.userID }

// Start marks the user online and loads the conversation list.
func (s *Session) Start(ctx context.Context) error {
	if err := s.store.UpsertPresence(ctx, s.userID, true, ""); err != nil {
		glog.Errorf("session %s: presence online err: %v", s.userID, err)
		s.notice("presence not synced")
	}
	return s.RefreshConversations(ctx)
}

// Close stops typing timers and marks the user offline. A crashed client
// never gets here; its presence row goes stale, which is accepted.
func (s *Session) Close() {
	s.emitter.Close()
	if err := s.store.UpsertPresence(context.Background(), s.userID, false, ""); err != nil {
		glog.Errorf("session %s: presence offline err: %v", s.userID, err)
	}
}

// RefreshConversations refetches the list. On failure the previous list
// stays intact and available; there is no automatic retry beyond the next
// feed-triggered refresh.
func (s *Session) RefreshConversations(ctx context.Context) error {
	items, err := s.store.ListConversations(ctx, s.userID)
	if err != nil {
		glog.Errorf("session %s: list conversations err: %v", s.userID, err)
		return err
	}
	s.mu.Lock()
	s.list.replace(items)
	snap := s.list.snapshot()
	s.mu.Unlock()
	s.sink.Push(&Event{Conversations: snap})
	return nil
}

// OpenWith opens (creating on first contact) the conversation with another
// user and loads its timeline.
func (s *Session) OpenWith(ctx context.Context, otherUserID string) (string, error) {
	convID, err := s.store.OpenOrCreateConversation(ctx, s.userID, otherUserID)
	if err != nil {
		return "", err
	}
	return convID, s.Open(ctx, convID)
}

// Open switches the active conversation, loads the newest message window and
// marks incoming messages read.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.active
	s.epoch++
	epoch := s.epoch
	s.active = conversationID
	s.tl.reset(conversationID)
	s.mu.Unlock()

	if prev != "" && prev != conversationID {
		s.emitter.Stop(prev)
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, s.userID, time.Time{}, "", s.cfg.PageSize)
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			// The view never loaded; leaving it active would let a Send
			// target a conversation the user cannot see.
			s.active = ""
			s.tl.reset("")
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Switched away while loading; do not clobber the new view.
		s.mu.Unlock()
		return nil
	}
	s.tl.fill(msgs, len(msgs) == s.cfg.PageSize)
	snap := s.tl.snapshot()
	s.mu.Unlock()
	s.sink.Push(&Event{Timeline: snap})

	s.markReadAndSync(ctx, conversationID)
	return nil
}

// Leave closes the active conversation view.
func (s *Session) Leave() {
	s.mu.Lock()
	conv := s.active
	s.active = ""
	s.epoch++
	s.tl.reset("")
	s.mu.Unlock()

	if conv != "" {
		s.emitter.Stop(conv)
	}
}

// LoadOlder backfills one older page. The cursor is the oldest loaded
// message's (timestamp, id) tuple; results arriving after a conversation
// switch are discarded via the epoch token.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	conv := s.active
	if conv == "" {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	before, beforeID := s.tl.oldestCursor()
	epoch := s.epoch
	s.mu.Unlock()

	if before.IsZero() {
		return nil
	}

	msgs, err := s.store.ListMessages(ctx, conv, s.userID, before, beforeID, s.cfg.PageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	s.tl.prependOlder(msgs, len(msgs) == s.cfg.PageSize)
	snap := s.tl.snapshot()
	s.mu.Unlock()
	s.sink.Push(&Event{Timeline: snap})
	return nil
}

// Send appends an optimistic placeholder and returns immediately; the
// authoritative write completes in the background. pending -> confirmed on
// store acknowledgment, -> failed on rejection (placeholder removed, content
// returned to the caller via SendFailed).
func (s *Session) Send(content string, kind MessageKind, replyTo, mediaRef string) (*Message, error) {
	if !kind.Valid() {
		kind = KindText
	}
	if strings.TrimSpace(content) == "" && mediaRef == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	conv := s.active
	if conv == "" {
		s.mu.Unlock()
		return nil, ErrNoActiveConversation
	}
	m := Message{
		ID:             "tmp-" + uuid.New(),
		ConversationID: conv,
		SenderID:       s.userID,
		Content:        content,
		Kind:           kind,
		ReplyTo:        replyTo,
		MediaRef:       mediaRef,
		Status:         StatusSent,
		State:          SendPending,
		CreatedAt:      time.Now().UTC(),
	}
	s.tl.append(m)
	s.mu.Unlock()

	s.emitter.Stop(conv) // sending always clears typing
	s.sink.Push(&Event{Message: &m})

	go s.finishSend(m)
	return &m, nil
}

func (s *Session) finishSend(m Message) {
	ctx := context.Background()
	id, createdAt, err := s.store.InsertMessage(ctx, &m)
	if err != nil {
		glog.Errorf("session %s: send to conversation %s err: %v", s.userID, m.ConversationID, err)
		s.mu.Lock()
		s.tl.remove(m.ID)
		s.mu.Unlock()
		s.sink.Push(&Event{SendFailed: &SendFailure{
			TempID:         m.ID,
			ConversationID: m.ConversationID,
			Content:        m.Content,
			Kind:           m.Kind,
			Reason:         err.Error(),
		}})
		return
	}

	s.mu.Lock()
	confirmed, ok := s.tl.confirm(m.ID, id, createdAt)
	s.mu.Unlock()
	if ok {
		s.sink.Push(&Event{Message: &confirmed})
	}
	// If !ok the feed echo confirmed it first, or the view moved on; the
	// message is durable either way.

	s.refreshSummary(ctx, m.ConversationID)
}

// MarkRead marks all incoming messages in the active conversation read.
// Safe to repeat.
func (s *Session) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	conv := s.active
	s.mu.Unlock()
	if conv == "" {
		return ErrNoActiveConversation
	}
	s.markReadAndSync(ctx, conv)
	return nil
}

func (s *Session) markReadAndSync(ctx context.Context, conversationID string) {
	n, err := s.store.MarkRead(ctx, conversationID, s.userID)
	if err != nil {
		glog.Errorf("session %s: mark read %s err: %v", s.userID, conversationID, err)
		s.notice("read state not synced")
		return
	}
	if n == 0 {
		return
	}
	s.mu.Lock()
	changed := s.list.setUnread(conversationID, 0)
	snap := s.list.snapshot()
	s.mu.Unlock()
	if changed {
		s.sink.Push(&Event{Conversations: snap})
	}
}

// Clear hides the conversation's history up to now for this user only, then
// reloads the (now empty) timeline. There is no un-clear.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	conv := s.active
	s.mu.Unlock()
	if conv == "" {
		return ErrNoActiveConversation
	}
	if err := s.store.ClearConversation(ctx, s.userID, conv, time.Now().UTC()); err != nil {
		return err
	}
	return s.Open(ctx, conv)
}

// Delete hides a conversation from this user's list. Reversible only by new
// incoming activity; history is untouched (deleting does not clear).
func (s *Session) Delete(ctx context.Context, conversationID string) error {
	if err := s.store.DeleteForUser(ctx, conversationID, s.userID); err != nil {
		return err
	}
	s.mu.Lock()
	removed := s.list.remove(conversationID)
	snap := s.list.snapshot()
	wasActive := s.active == conversationID
	s.mu.Unlock()

	if wasActive {
		s.Leave()
	}
	if removed {
		s.sink.Push(&Event{Conversations: snap})
	}
	return nil
}

// TypingActivity records local keystroke activity in the active conversation.
func (s *Session) TypingActivity() {
	s.mu.Lock()
	conv := s.active
	s.mu.Unlock()
	if conv != "" {
		s.emitter.Activity(conv)
	}
}

// SetPresence pushes a visibility transition (tab shown/hidden).
func (s *Session) SetPresence(ctx context.Context, online bool, statusLabel string) {
	if err := s.store.UpsertPresence(ctx, s.userID, online, statusLabel); err != nil {
		glog.Errorf("session %s: presence err: %v", s.userID, err)
		s.notice("presence not synced")
	}
}

// refreshSummary patches one conversation's list row from the store. Errors
// keep the stale row; the next feed event refreshes it.
func (s *Session) refreshSummary(ctx context.Context, conversationID string) {
	sum, err := s.store.GetConversationSummary(ctx, conversationID, s.userID)
	if err == ErrNotParticipant {
		return
	}
	if err != nil {
		glog.V(5).Infof("session %s: refresh summary %s err: %v", s.userID, conversationID, err)
		return
	}
	s.mu.Lock()
	s.list.upsert(*sum)
	snap := s.list.snapshot()
	s.mu.Unlock()
	s.sink.Push(&Event{Conversations: snap})
}

func (s *Session) notice(text string) {
	s.sink.Push(&Event{Notice: text})
}
