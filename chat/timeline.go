package chat

import (
	"sort"
	"time"
)

// dedupWindow bounds the timestamp distance between an optimistic placeholder
// and its store echo for content-based matching.
const dedupWindow = 2 * time.Second

// timeline holds the loaded message window of the active conversation,
// ascending by (CreatedAt, ID). Callers hold the session lock.
type timeline struct {
	convID  string
	entries []Message
	hasMore bool
}

func (t *timeline) reset(convID string) {
	t.convID = convID
	t.entries = nil
	t.hasMore = false
}

func (t *timeline) fill(msgs []Message, hasMore bool) {
	t.entries = msgs
	t.hasMore = hasMore
	t.sort()
}

// prependOlder merges an older page into the window. Duplicate ids are
// dropped: the pagination cursor is exclusive but a concurrent clear can
// shift the window.
func (t *timeline) prependOlder(older []Message, hasMore bool) {
	seen := make(map[string]bool, len(t.entries))
	for i := range t.entries {
		seen[t.entries[i].ID] = true
	}
	for _, m := range older {
		if !seen[m.ID] {
			t.entries = append(t.entries, m)
		}
	}
	t.hasMore = hasMore
	t.sort()
}

// oldestCursor is the exclusive pagination cursor for backfill: timestamp
// plus id, so older messages sharing the boundary millisecond are not lost.
func (t *timeline) oldestCursor() (time.Time, string) {
	for i := range t.entries {
		// Pending placeholders carry a local clock, skip them.
		if t.entries[i].State != SendPending {
			return t.entries[i].CreatedAt, t.entries[i].ID
		}
	}
	return time.Time{}, ""
}

func (t *timeline) snapshot() *TimelineSnapshot {
	msgs := make([]Message, len(t.entries))
	copy(msgs, t.entries)
	return &TimelineSnapshot{
		ConversationID: t.convID,
		Messages:       msgs,
		HasMore:        t.hasMore,
	}
}

func (t *timeline) find(id string) *Message {
	for i := range t.entries {
		if t.entries[i].ID == id {
			return &t.entries[i]
		}
	}
	return nil
}

// append adds an optimistic placeholder at the tail.
func (t *timeline) append(m Message) {
	t.entries = append(t.entries, m)
	t.sort()
}

// reconcile folds a store-authored message (echo or peer message) into the
// window without ever producing a duplicate entry. The dedup key is the id
// once known, else (sender, content, kind) within dedupWindow against a
// pending placeholder.
func (t *timeline) reconcile(m Message) (Message, bool) {
	if e := t.find(m.ID); e != nil {
		return *e, false
	}
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == SendPending && e.SenderID == m.SenderID &&
			e.Content == m.Content && e.Kind == m.Kind &&
			absDuration(e.CreatedAt.Sub(m.CreatedAt)) <= dedupWindow {
			e.ID = m.ID
			e.CreatedAt = m.CreatedAt
			e.Status = m.Status
			e.State = SendConfirmed
			t.sort()
			return *t.find(m.ID), true
		}
	}
	m.State = SendConfirmed
	t.entries = append(t.entries, m)
	t.sort()
	return *t.find(m.ID), true
}

// confirm replaces a placeholder's temporary identity with the store-assigned
// one, in place. No-op when the feed echo already confirmed it.
func (t *timeline) confirm(tempID, id string, createdAt time.Time) (Message, bool) {
	e := t.find(tempID)
	if e == nil {
		return Message{}, false
	}
	e.ID = id
	e.CreatedAt = createdAt
	e.State = SendConfirmed
	t.sort()
	return *t.find(id), true
}

// remove drops a rejected placeholder from the window.
func (t *timeline) remove(id string) bool {
	for i := range t.entries {
		if t.entries[i].ID == id {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return true
		}
	}
	return false
}

// advancePeerStatus flips the local user's outgoing messages to the given
// status once the recipient's read/delivered event is observed. Statuses only
// ever move forward.
func (t *timeline) advancePeerStatus(localUserID string, status DeliveryStatus) bool {
	var changed bool
	for i := range t.entries {
		e := &t.entries[i]
		if e.SenderID == localUserID && statusRank(e.Status) < statusRank(status) {
			e.Status = status
			changed = true
		}
	}
	return changed
}

// attachReaction adds a reaction to its message, matching by
// (message, user, kind) so an optimistic local entry and its echo never
// double up; the echo fills in the store-assigned id.
func (t *timeline) attachReaction(r Reaction) (Message, bool) {
	e := t.find(r.MessageID)
	if e == nil {
		return Message{}, false
	}
	for i := range e.Reactions {
		held := &e.Reactions[i]
		if held.UserID == r.UserID && held.Kind == r.Kind {
			if held.ID == "" && r.ID != "" {
				held.ID = r.ID
				held.CreatedAt = r.CreatedAt
				return *e, true
			}
			return *e, false
		}
	}
	e.Reactions = append(e.Reactions, r)
	return *e, true
}

func (t *timeline) detachReaction(r Reaction) (Message, bool) {
	e := t.find(r.MessageID)
	if e == nil {
		return Message{}, false
	}
	for i := range e.Reactions {
		held := e.Reactions[i]
		if held.UserID == r.UserID && held.Kind == r.Kind {
			e.Reactions = append(e.Reactions[:i], e.Reactions[i+1:]...)
			return *e, true
		}
	}
	return *e, false
}

// sort keeps display order by timestamp regardless of feed arrival order,
// ties broken by id.
func (t *timeline) sort() {
	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := &t.entries[i], &t.entries[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
