// Package feed is the row-level change feed: every successful store mutation
// publishes a Change, consumed at-least-once with no ordering guarantee
// beyond "eventually delivered". Durable tables travel over kafka, ephemeral
// typing/presence rows over redis pub/sub; both funnel into one Dispatcher.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Table string

const (
	TableMessages    Table = "messages"
	TableReactions   Table = "reactions"
	TableReadMarkers Table = "read_markers"
	TableChatMarkers Table = "chat_markers"
	TableTyping      Table = "typing_status"
	TablePresence    Table = "presence"
)

// Ephemeral reports whether changes to the table go over the lossy low-latency
// transport instead of kafka.
func (t Table) Ephemeral() bool {
	return t == TableTyping || t == TablePresence
}

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change describes one row mutation. New holds the row after the change,
// Old the row before it (deletes and updates only).
type Change struct {
	Table Table           `json:"table"`
	Op    Op              `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
	Time  time.Time       `json:"time"`
}

// Consumer receives changes. ApplyChange must not block: it is called inline
// from the transport loops.
type Consumer interface {
	ApplyChange(Change)
}

// Publisher emits a change after a store mutation committed.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Dispatcher fans changes out to subscribed consumers. Subscriptions are
// process-wide and stable across conversation switches; sessions subscribe
// once at login, not per open conversation.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int64
	consumers map[int64]Consumer
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{consumers: make(map[int64]Consumer)}
}

// Subscribe registers a consumer and returns its cancel function.
func (d *Dispatcher) Subscribe(c Consumer) (cancel func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.consumers[id] = c
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.consumers, id)
		d.mu.Unlock()
	}
}

// Dispatch delivers the change to every current subscriber.
func (d *Dispatcher) Dispatch(c Change) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, consumer := range d.consumers {
		consumer.ApplyChange(c)
	}
	eventsDispatched.WithLabelValues(string(c.Table)).Inc()
}

// Router is a Publisher that sends ephemeral tables to the lossy transport
// and everything else to the durable one.
type Router struct {
	Durable   Publisher
	Ephemeral Publisher
}

func (r *Router) Publish(ctx context.Context, c Change) error {
	if c.Table.Ephemeral() {
		return r.Ephemeral.Publish(ctx, c)
	}
	return r.Durable.Publish(ctx, c)
}
