package chat

import (
	"context"

	"github.com/golang/glog"
)

// React adds the local user's reaction to a message in the active timeline.
// Optimistic in both directions: the local set updates first, the store write
// follows; a re-add of a held kind is a no-op end to end. On write failure
// the optimistic state stays (stale reaction beats a flickering one) and a
// notice is pushed; the next echo or refetch self-heals.
func (s *Session) React(messageID string, kind ReactionKind) error {
	if !kind.Valid() {
		return ErrBadReactionKind
	}

	r := Reaction{MessageID: messageID, UserID: s.userID, Kind: kind}

	s.mu.Lock()
	entry, changed := s.tl.attachReaction(r)
	s.mu.Unlock()

	if !changed {
		// Already held; adding again must not touch the count.
		return nil
	}
	s.sink.Push(&Event{Message: &entry})

	go func() {
		if err := s.store.AddReaction(context.Background(), &r); err != nil {
			glog.Errorf("session %s: add reaction (%s, %s) err: %v", s.userID, messageID, kind, err)
			s.notice("reaction not synced")
		}
	}()
	return nil
}

// Unreact removes the exact (message, user, kind) tuple.
func (s *Session) Unreact(messageID string, kind ReactionKind) error {
	if !kind.Valid() {
		return ErrBadReactionKind
	}

	r := Reaction{MessageID: messageID, UserID: s.userID, Kind: kind}

	s.mu.Lock()
	entry, changed := s.tl.detachReaction(r)
	s.mu.Unlock()

	if changed {
		s.sink.Push(&Event{Message: &entry})
	}

	go func() {
		if err := s.store.RemoveReaction(context.Background(), messageID, s.userID, kind); err != nil {
			glog.Errorf("session %s: remove reaction (%s, %s) err: %v", s.userID, messageID, kind, err)
			s.notice("reaction not synced")
		}
	}()
	return nil
}
