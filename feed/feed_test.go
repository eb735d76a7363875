package feed

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordConsumer struct {
	mu      sync.Mutex
	changes []Change
}

func (c *recordConsumer) ApplyChange(change Change) {
	c.mu.Lock()
	c.changes = append(c.changes, change)
	c.mu.Unlock()
}

func (c *recordConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

type recordPublisher struct {
	changes []Change
}

func (p *recordPublisher) Publish(_ context.Context, c Change) error {
	p.changes = append(p.changes, c)
	return nil
}

func TestTableEphemeral(t *testing.T) {
	assert.True(t, TableTyping.Ephemeral())
	assert.True(t, TablePresence.Ephemeral())
	assert.False(t, TableMessages.Ephemeral())
	assert.False(t, TableReactions.Ephemeral())
	assert.False(t, TableReadMarkers.Ephemeral())
	assert.False(t, TableChatMarkers.Ephemeral())
}

func TestDispatcherFanOutAndCancel(t *testing.T) {
	d := NewDispatcher()
	a := &recordConsumer{}
	b := &recordConsumer{}

	cancelA := d.Subscribe(a)
	cancelB := d.Subscribe(b)

	d.Dispatch(Change{Table: TableMessages, Op: OpInsert, Time: time.Now()})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	cancelA()
	d.Dispatch(Change{Table: TableMessages, Op: OpInsert, Time: time.Now()})
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 2, b.count())

	// Cancelling twice is harmless.
	cancelA()
	cancelB()
	d.Dispatch(Change{Table: TableMessages, Op: OpInsert, Time: time.Now()})
	assert.Equal(t, 2, b.count())
}

func TestRouterSplitsByTable(t *testing.T) {
	durable := &recordPublisher{}
	ephemeral := &recordPublisher{}
	r := &Router{Durable: durable, Ephemeral: ephemeral}

	ctx := context.Background()
	assert.NoError(t, r.Publish(ctx, Change{Table: TableMessages, Op: OpInsert}))
	assert.NoError(t, r.Publish(ctx, Change{Table: TableReadMarkers, Op: OpUpdate}))
	assert.NoError(t, r.Publish(ctx, Change{Table: TableTyping, Op: OpUpdate}))
	assert.NoError(t, r.Publish(ctx, Change{Table: TablePresence, Op: OpUpdate}))

	assert.Len(t, durable.changes, 2)
	assert.Len(t, ephemeral.changes, 2)
}

func TestChangeRoundTripKeepsRawRows(t *testing.T) {
	row := json.RawMessage(`{"id":"m1","content":"hi"}`)
	c := Change{Table: TableMessages, Op: OpInsert, New: row, Time: time.Now().UTC().Truncate(time.Millisecond)}

	raw, err := json.Marshal(c)
	assert.NoError(t, err)

	var got Change
	assert.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, c.Table, got.Table)
	assert.Equal(t, c.Op, got.Op)
	assert.JSONEq(t, string(row), string(got.New))
	assert.True(t, c.Time.Equal(got.Time))
}
