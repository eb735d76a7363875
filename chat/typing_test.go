package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type typingCall struct {
	conv   string
	typing bool
}

// recordTyping wires a stubStore that forwards every typing upsert to a
// channel, so timer-driven calls can be awaited instead of slept on.
func recordTyping() (*stubStore, chan typingCall) {
	calls := make(chan typingCall, 16)
	st := &stubStore{
		upsertTypingFn: func(conv, uid string, typing bool) error {
			calls <- typingCall{conv: conv, typing: typing}
			return nil
		},
	}
	return st, calls
}

func nextCall(t *testing.T, calls chan typingCall) typingCall {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing upsert")
		return typingCall{}
	}
}

func noCall(t *testing.T, calls chan typingCall, window time.Duration) {
	t.Helper()
	select {
	case c := <-calls:
		t.Fatalf("unexpected typing upsert: %+v", c)
	case <-time.After(window):
	}
}

func TestEmitterBurstEmitsOnceThenClears(t *testing.T) {
	st, calls := recordTyping()
	e := NewTypingEmitter(st, "alice", 80*time.Millisecond, nil)

	// A burst of keystrokes upserts typing=true exactly once.
	e.Activity("c1")
	e.Activity("c1")
	e.Activity("c1")
	c := nextCall(t, calls)
	assert.Equal(t, typingCall{conv: "c1", typing: true}, c)

	// The idle timer fires once, well after the last keystroke.
	c = nextCall(t, calls)
	assert.Equal(t, typingCall{conv: "c1", typing: false}, c)

	noCall(t, calls, 200*time.Millisecond)
}

func TestEmitterKeystrokeRestartsIdleTimer(t *testing.T) {
	st, calls := recordTyping()
	e := NewTypingEmitter(st, "alice", 150*time.Millisecond, nil)

	e.Activity("c1")
	nextCall(t, calls) // typing=true

	// Keep typing faster than the idle window: no clear may fire.
	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		e.Activity("c1")
	}
	noCall(t, calls, 50*time.Millisecond)

	// Going quiet finally clears.
	c := nextCall(t, calls)
	assert.False(t, c.typing)
}

func TestEmitterStaleIdleCallbackIgnored(t *testing.T) {
	st, calls := recordTyping()
	e := NewTypingEmitter(st, "alice", time.Minute, nil)

	e.Activity("c1")
	c := nextCall(t, calls)
	assert.True(t, c.typing)

	e.mu.Lock()
	stale := e.timers["c1"].gen
	e.mu.Unlock()

	// A keystroke supersedes the first timer. If that timer already fired and
	// its callback is waiting on the lock, it runs after the keystroke with a
	// stale generation and must not clear.
	e.Activity("c1")
	e.idleExpired("c1", stale)
	noCall(t, calls, 100*time.Millisecond)

	// The superseding timer is still the one that owns the clear.
	e.mu.Lock()
	_, armed := e.timers["c1"]
	e.mu.Unlock()
	assert.True(t, armed)

	e.Stop("c1")
	c = nextCall(t, calls)
	assert.False(t, c.typing)
}

func TestEmitterStopClearsImmediately(t *testing.T) {
	st, calls := recordTyping()
	e := NewTypingEmitter(st, "alice", time.Minute, nil)

	// Stop while not typing is a no-op.
	e.Stop("c1")
	noCall(t, calls, 50*time.Millisecond)

	e.Activity("c1")
	c := nextCall(t, calls)
	assert.True(t, c.typing)

	e.Stop("c1")
	c = nextCall(t, calls)
	assert.False(t, c.typing)

	// The minute-long idle timer was cancelled with it.
	noCall(t, calls, 100*time.Millisecond)
}

func TestEmitterCloseClearsAllConversations(t *testing.T) {
	st, calls := recordTyping()
	e := NewTypingEmitter(st, "alice", time.Minute, nil)

	e.Activity("c1")
	e.Activity("c2")
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		c := nextCall(t, calls)
		assert.True(t, c.typing)
		seen[c.conv] = true
	}
	assert.Len(t, seen, 2)

	e.Close()
	for i := 0; i < 2; i++ {
		c := nextCall(t, calls)
		assert.False(t, c.typing)
	}

	// Closed emitters drop further activity.
	e.Activity("c1")
	noCall(t, calls, 100*time.Millisecond)
}

func TestTypingSetApplyAndUsers(t *testing.T) {
	var ts typingSet

	// A clear for an unknown conversation allocates nothing.
	ts.apply(TypingState{ConversationID: "c1", UserID: "bob", Typing: false})
	assert.Empty(t, ts.users("c1", "alice"))

	ts.apply(TypingState{ConversationID: "c1", UserID: "bob", Typing: true})
	ts.apply(TypingState{ConversationID: "c1", UserID: "carol", Typing: true})
	ts.apply(TypingState{ConversationID: "c1", UserID: "alice", Typing: true})

	// Stable order, local user excluded.
	assert.Equal(t, []string{"bob", "carol"}, ts.users("c1", "alice"))

	ts.apply(TypingState{ConversationID: "c1", UserID: "bob", Typing: false})
	assert.Equal(t, []string{"carol"}, ts.users("c1", "alice"))

	assert.Empty(t, ts.users("unknown", "alice"))
}
