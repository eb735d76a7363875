package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

func TestPairKeyCanonicalizes(t *testing.T) {
	lo, hi := pairKey("bob", "alice")
	assert.Equal(t, "alice", lo)
	assert.Equal(t, "bob", hi)

	lo2, hi2 := pairKey("alice", "bob")
	assert.Equal(t, lo, lo2)
	assert.Equal(t, hi, hi2)
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "hello", previewText("hello", "text"))
	assert.Equal(t, "[image]", previewText("uploads/x.png", "image"))
	assert.Equal(t, "[file]", previewText("uploads/notes.pdf", "file"))
	assert.Equal(t, "see above", previewText("see above", "reply"))
}

func TestIsDupKeyError(t *testing.T) {
	s := &Conversations{}

	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.True(t, s.IsDupKeyError(dup))
	assert.True(t, s.IsDupKeyError(fmt.Errorf("insert: %w", dup)))

	assert.False(t, s.IsDupKeyError(&mysql.MySQLError{Number: 1213}))
	assert.False(t, s.IsDupKeyError(errors.New("plain error")))
	assert.False(t, s.IsDupKeyError(nil))
}

type capturePublisher struct {
	changes []feed.Change
}

func (p *capturePublisher) Publish(_ context.Context, c feed.Change) error {
	p.changes = append(p.changes, c)
	return nil
}

func TestPublishMarshalsRows(t *testing.T) {
	pub := &capturePublisher{}
	s := &Conversations{pub: pub}

	s.publish(context.Background(), feed.TableReactions, feed.OpDelete, nil,
		map[string]string{"message_id": "m1", "user_id": "alice"})

	require.Len(t, pub.changes, 1)
	c := pub.changes[0]
	assert.Equal(t, feed.TableReactions, c.Table)
	assert.Equal(t, feed.OpDelete, c.Op)
	assert.Nil(t, c.New)

	var old map[string]string
	require.NoError(t, json.Unmarshal(c.Old, &old))
	assert.Equal(t, "m1", old["message_id"])
	assert.False(t, c.Time.IsZero())
}
