package feed

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKafkaReader struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	commits []int64
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, context.Canceled
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	for _, m := range msgs {
		r.commits = append(r.commits, m.Offset)
	}
	r.mu.Unlock()
	return nil
}

func (r *fakeKafkaReader) Close() error { return nil }

func (r *fakeKafkaReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.commits))
	copy(out, r.commits)
	return out
}

type fakeKafkaWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

func changeValue(t *testing.T, table Table) []byte {
	t.Helper()
	raw, err := json.Marshal(Change{Table: table, Op: OpInsert, New: json.RawMessage(`{"id":"x"}`), Time: time.Now()})
	require.NoError(t, err)
	return raw
}

func TestKafkaSourceDispatchSkipAndCommit(t *testing.T) {
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "feed.db"))
	require.NoError(t, err)
	defer journal.Close()

	// Offsets 0 and 1 were dispatched before the restart.
	require.NoError(t, journal.SetOffset("grp", 1))

	reader := &fakeKafkaReader{msgs: []kafka.Message{
		{Offset: 0, Value: changeValue(t, TableMessages)},  // journaled replay
		{Offset: 1, Value: changeValue(t, TableReactions)}, // journaled replay
		{Offset: 2, Value: changeValue(t, TableMessages)},  // fresh
		{Offset: 3, Value: []byte("not json")},             // malformed
		{Offset: 4, Value: make([]byte, 2048)},             // oversize
	}}

	dispatcher := NewDispatcher()
	consumer := &recordConsumer{}
	dispatcher.Subscribe(consumer)

	source := NewKafkaSource(reader, dispatcher, journal, "grp", 1024)

	ctx, cancel := context.WithCancel(context.Background())
	stopDoneC := make(chan struct{}, 1)
	go source.Run(ctx, stopDoneC)

	deadline := time.Now().Add(2 * time.Second)
	for len(reader.committed()) < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopDoneC:
	case <-time.After(2 * time.Second):
		t.Fatal("kafka source did not stop")
	}

	// Only the fresh, well-formed message reached the dispatcher.
	assert.Equal(t, 1, consumer.count())

	// Every message was committed back regardless of its fate.
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.committed())

	// The journal advanced to the fresh message only.
	offset, found, err := journal.LastOffset("grp")
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 2, offset)
}

func TestKafkaPublisherKeysByTable(t *testing.T) {
	writer := &fakeKafkaWriter{}
	p := NewKafkaPublisher(writer)

	c := Change{Table: TableMessages, Op: OpInsert, New: json.RawMessage(`{"id":"m1"}`), Time: time.Now()}
	require.NoError(t, p.Publish(context.Background(), c))

	require.Len(t, writer.msgs, 1)
	assert.Equal(t, []byte("messages"), writer.msgs[0].Key)

	var got Change
	require.NoError(t, json.Unmarshal(writer.msgs[0].Value, &got))
	assert.Equal(t, TableMessages, got.Table)
	assert.Equal(t, OpInsert, got.Op)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	var d time.Duration
	backoff(&d)
	assert.Equal(t, BackoffMinInterval, d)

	backoff(&d)
	assert.Equal(t, 1500*time.Millisecond, d)

	for i := 0; i < 20; i++ {
		backoff(&d)
	}
	assert.Equal(t, BackoffMaxInterval, d)
}
