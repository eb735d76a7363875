package chat

import (
	"context"
	"encoding/json"

	"github.com/golang/glog"

	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

// ApplyChange implements feed.Consumer. The feed is at-least-once with no
// ordering guarantee; every handler here is idempotent and re-sorts or
// dedups as needed. Local state updates happen inline; store round-trips
// (summary refetch, delivery advance) run in the background so the transport
// loop is never blocked on this session.
func (s *Session) ApplyChange(c feed.Change) {
	switch c.Table {
	case feed.TableMessages:
		var m Message
		if err := json.Unmarshal(c.New, &m); err != nil {
			glog.Errorf("session %s: bad message change: %v", s.userID, err)
			return
		}
		s.onMessageInserted(m)
	case feed.TableReactions:
		s.onReactionChange(c)
	case feed.TableReadMarkers:
		var rm ReadMarker
		if err := json.Unmarshal(c.New, &rm); err != nil {
			glog.Errorf("session %s: bad read marker change: %v", s.userID, err)
			return
		}
		s.onReadMarker(rm)
	case feed.TableChatMarkers:
		var mk struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(c.New, &mk); err != nil {
			return
		}
		// Another device of this user cleared or deleted; resync the list.
		if mk.UserID == s.userID {
			go func() {
				_ = s.RefreshConversations(context.Background())
			}()
		}
	case feed.TableTyping:
		var t TypingState
		if err := json.Unmarshal(c.New, &t); err != nil {
			glog.Errorf("session %s: bad typing change: %v", s.userID, err)
			return
		}
		s.onTyping(t)
	case feed.TablePresence:
		var p Presence
		if err := json.Unmarshal(c.New, &p); err != nil {
			glog.Errorf("session %s: bad presence change: %v", s.userID, err)
			return
		}
		s.onPresence(p)
	}
}

// onMessageInserted reconciles a message insert. Events for the open
// conversation flow into the timeline; every insert may also move this
// conversation in the list, so its summary is refetched from the store
// (which is authoritative for unread counts and delete-marker visibility).
func (s *Session) onMessageInserted(m Message) {
	s.mu.Lock()
	active := s.active // read fresh, never captured
	var (
		entry   Message
		changed bool
	)
	if m.ConversationID == active {
		entry, changed = s.tl.reconcile(m)
	}
	known := s.list.known(m.ConversationID)
	s.mu.Unlock()

	if changed {
		s.sink.Push(&Event{Message: &entry})
	}

	// Inserts fan out to every session; only participants get a summary
	// back, everyone else drops the event on ErrNotParticipant.
	if !known && m.SenderID == s.userID {
		// Our own echo for an unknown conversation still needs a list row
		// (send from another device).
		go s.refreshSummary(context.Background(), m.ConversationID)
		return
	}

	go func() {
		ctx := context.Background()
		if m.SenderID != s.userID {
			if m.ConversationID == active {
				// The view is on screen: consume straight to read.
				if _, err := s.store.MarkRead(ctx, m.ConversationID, s.userID); err != nil {
					glog.V(5).Infof("session %s: mark read on arrival err: %v", s.userID, err)
				}
			} else {
				// Not on screen, possibly not even listed yet (first contact
				// from a new peer): advance to delivered anyway. The store
				// rejects non-participants, which covers the fan-out noise.
				if _, err := s.store.MarkDelivered(ctx, m.ConversationID, s.userID); err != nil {
					glog.V(5).Infof("session %s: mark delivered err: %v", s.userID, err)
				}
			}
		}
		s.refreshSummary(ctx, m.ConversationID)
	}()
}

func (s *Session) onReactionChange(c feed.Change) {
	raw := c.New
	if c.Op == feed.OpDelete {
		raw = c.Old
	}
	var r Reaction
	if err := json.Unmarshal(raw, &r); err != nil {
		glog.Errorf("session %s: bad reaction change: %v", s.userID, err)
		return
	}

	s.mu.Lock()
	var (
		entry   Message
		changed bool
	)
	if s.active != "" && s.tl.convID == s.active {
		if c.Op == feed.OpDelete {
			entry, changed = s.tl.detachReaction(r)
		} else {
			entry, changed = s.tl.attachReaction(r)
		}
	}
	s.mu.Unlock()

	if changed {
		s.sink.Push(&Event{Message: &entry})
	}
}

// onReadMarker flips status indicators on the local user's outgoing messages
// once the peer's delivered/read event is observed.
func (s *Session) onReadMarker(rm ReadMarker) {
	if rm.UserID == s.userID {
		// Own read on another device; unread counts moved server-side.
		s.mu.Lock()
		known := s.list.known(rm.ConversationID)
		s.mu.Unlock()
		if known {
			go s.refreshSummary(context.Background(), rm.ConversationID)
		}
		return
	}

	s.mu.Lock()
	var snap *TimelineSnapshot
	if rm.ConversationID == s.active {
		if s.tl.advancePeerStatus(s.userID, rm.Status) {
			snap = s.tl.snapshot()
		}
	}
	s.mu.Unlock()

	if snap != nil {
		s.sink.Push(&Event{Timeline: snap})
	}
}

// onTyping maintains the consumed typing set. Purely event-driven: no local
// timeout fallback, a lost idle-clear persists until overwritten.
func (s *Session) onTyping(t TypingState) {
	if t.UserID == s.userID {
		return
	}

	s.mu.Lock()
	s.typing.apply(t)
	s.list.applyTyping(t)
	var ev *Event
	if t.ConversationID == s.active {
		ev = &Event{Typing: &TypingEvent{
			ConversationID: t.ConversationID,
			UserIDs:        s.typing.users(t.ConversationID, s.userID),
		}}
	}
	s.mu.Unlock()

	if ev != nil {
		s.sink.Push(ev)
	}
}

func (s *Session) onPresence(p Presence) {
	if p.UserID == s.userID {
		return
	}
	s.mu.Lock()
	changed := s.list.applyPresence(p)
	s.mu.Unlock()
	if changed {
		s.sink.Push(&Event{Presence: &p})
	}
}
