package chat

import "sort"

// listState is the local projection of the conversation list, ordered by
// most-recent activity descending. Callers hold the session lock.
type listState struct {
	items []ConversationSummary
}

func (l *listState) replace(items []ConversationSummary) {
	l.items = items
	l.sort()
}

func (l *listState) snapshot() []ConversationSummary {
	out := make([]ConversationSummary, len(l.items))
	copy(out, l.items)
	return out
}

func (l *listState) known(convID string) bool {
	for i := range l.items {
		if l.items[i].ConversationID == convID {
			return true
		}
	}
	return false
}

// upsert patches or inserts one summary and restores ordering. This is how a
// conversation hidden by a delete marker reappears: the store-side refetch
// returns it again on new activity.
func (l *listState) upsert(s ConversationSummary) {
	for i := range l.items {
		if l.items[i].ConversationID == s.ConversationID {
			l.items[i] = s
			l.sort()
			return
		}
	}
	l.items = append(l.items, s)
	l.sort()
}

func (l *listState) remove(convID string) bool {
	for i := range l.items {
		if l.items[i].ConversationID == convID {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

func (l *listState) setUnread(convID string, n int) bool {
	for i := range l.items {
		if l.items[i].ConversationID == convID {
			if l.items[i].UnreadCount == n {
				return false
			}
			l.items[i].UnreadCount = n
			return true
		}
	}
	return false
}

func (l *listState) applyPresence(p Presence) bool {
	var changed bool
	for i := range l.items {
		if l.items[i].Peer.ID == p.UserID {
			l.items[i].PeerOnline = p.Online
			l.items[i].PeerLastSeen = p.LastSeen
			changed = true
		}
	}
	return changed
}

func (l *listState) applyTyping(t TypingState) bool {
	for i := range l.items {
		if l.items[i].ConversationID == t.ConversationID && l.items[i].Peer.ID == t.UserID {
			l.items[i].PeerTyping = t.Typing
			return true
		}
	}
	return false
}

func (l *listState) sort() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].lastActivity().After(l.items[j].lastActivity())
	})
}
