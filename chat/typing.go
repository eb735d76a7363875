package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"
)

// DefaultTypingIdle is how long after the last keystroke the typing flag
// auto-clears.
const DefaultTypingIdle = 3 * time.Second

// TypingEmitter publishes the local user's typing state. State machine per
// conversation: idle -> typing on input activity; typing -> idle on send,
// on leaving the conversation, or after the idle window with no activity.
// Exactly one idle timer is outstanding per conversation; a new keystroke
// restarts it, never stacks another.
type TypingEmitter struct {
	store   Store
	userID  string
	idle    time.Duration
	onError func(err error)

	mu     sync.Mutex
	timers map[string]*typingTimer
	gen    uint64
	closed bool
}

// typingTimer tags the outstanding idle timer with a generation so a callback
// that fired concurrently with a keystroke can be told apart from the live one.
type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

func NewTypingEmitter(store Store, userID string, idle time.Duration, onError func(error)) *TypingEmitter {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &TypingEmitter{
		store:   store,
		userID:  userID,
		idle:    idle,
		onError: onError,
		timers:  make(map[string]*typingTimer),
	}
}

// Activity records keystroke activity in the conversation. The first
// keystroke of a burst upserts typing=true; every keystroke restarts the
// idle timer.
func (e *TypingEmitter) Activity(conversationID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	cur, active := e.timers[conversationID]
	if active {
		cur.timer.Stop()
	}
	e.gen++
	entry := &typingTimer{gen: e.gen}
	gen := entry.gen
	entry.timer = time.AfterFunc(e.idle, func() {
		e.idleExpired(conversationID, gen)
	})
	e.timers[conversationID] = entry
	e.mu.Unlock()

	if !active {
		go e.upsert(conversationID, true)
	}
}

// Stop clears typing immediately (explicit send or leaving the view).
// No-op when not typing.
func (e *TypingEmitter) Stop(conversationID string) {
	e.mu.Lock()
	cur, active := e.timers[conversationID]
	if active {
		cur.timer.Stop()
		delete(e.timers, conversationID)
	}
	e.mu.Unlock()

	if active {
		go e.upsert(conversationID, false)
	}
}

// Close cancels all timers and clears any still-set typing flags.
func (e *TypingEmitter) Close() {
	e.mu.Lock()
	e.closed = true
	open := make([]string, 0, len(e.timers))
	for conv, cur := range e.timers {
		cur.timer.Stop()
		open = append(open, conv)
	}
	e.timers = make(map[string]*typingTimer)
	e.mu.Unlock()

	for _, conv := range open {
		e.upsert(conv, false)
	}
}

// idleExpired is the timer callback. A keystroke can land between the timer
// firing and this acquiring the lock; the generation check makes such stale
// callbacks no-ops, so only the timer armed by the last keystroke clears the
// flag.
func (e *TypingEmitter) idleExpired(conversationID string, gen uint64) {
	e.mu.Lock()
	cur, ok := e.timers[conversationID]
	if e.closed || !ok || cur.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.timers, conversationID)
	e.mu.Unlock()

	e.upsert(conversationID, false)
}

func (e *TypingEmitter) upsert(conversationID string, typing bool) {
	if err := e.store.UpsertTyping(context.Background(), conversationID, e.userID, typing); err != nil {
		glog.Errorf("typing: upsert typing=%t for conversation %s err: %v", typing, conversationID, err)
		e.onError(err)
	}
}

// typingSet is the consumer side: who is currently typing, per conversation,
// derived purely from the latest feed events. There is no consumer-side
// timeout; a lost idle-clear leaves the flag until overwritten.
type typingSet struct {
	byConv map[string]map[string]bool
}

func (ts *typingSet) apply(t TypingState) {
	if ts.byConv == nil {
		ts.byConv = make(map[string]map[string]bool)
	}
	users := ts.byConv[t.ConversationID]
	if users == nil {
		if !t.Typing {
			return
		}
		users = make(map[string]bool)
		ts.byConv[t.ConversationID] = users
	}
	if t.Typing {
		users[t.UserID] = true
	} else {
		delete(users, t.UserID)
	}
}

// users returns the currently-typing user ids for the conversation, excluding
// the local user, in stable order.
func (ts *typingSet) users(conversationID, exclude string) []string {
	var out []string
	for uid, typing := range ts.byConv[conversationID] {
		if typing && uid != exclude {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}
