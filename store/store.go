// Package store is the durable conversation store on MySQL. It exclusively
// owns persisted state; the chat engine holds only a transient projection.
// Every successful mutation publishes a row change on the feed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/GamerOZE123/campus-social-grid-sub000/feed"
)

const mysqlDupEntryErrNo = 1062

// Conversations implements `chat.Store`.
type Conversations struct {
	db  *sql.DB
	pub feed.Publisher
}

func NewConversations(db *sql.DB, pub feed.Publisher) *Conversations {
	return &Conversations{db: db, pub: pub}
}

func (s *Conversations) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error, opts ...*sql.TxOptions) error {
	var txOpts *sql.TxOptions
	if len(opts) == 0 {
		txOpts = &sql.TxOptions{
			Isolation: sql.LevelRepeatableRead,
			ReadOnly:  false,
		}
	} else {
		txOpts = opts[0]
	}
	tx, err := s.db.BeginTx(ctx, txOpts)
	if err != nil {
		return err
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("store: failed to rollback: %v", err2)
		}
		return err
	}

	return tx.Commit()
}

func (s *Conversations) IsDupKeyError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDupEntryErrNo
	}
	return false
}

// publish emits a row change after the mutation committed. A failed publish
// degrades clients to refetch-on-demand, it does not fail the mutation.
func (s *Conversations) publish(ctx context.Context, table feed.Table, op feed.Op, newRow, oldRow interface{}) {
	c := feed.Change{
		Table: table,
		Op:    op,
		Time:  time.Now(),
	}
	if newRow != nil {
		v, err := json.Marshal(newRow)
		if err != nil {
			glog.Errorf("store: marshal change for %s: %v", table, err)
			return
		}
		c.New = v
	}
	if oldRow != nil {
		v, err := json.Marshal(oldRow)
		if err != nil {
			glog.Errorf("store: marshal change for %s: %v", table, err)
			return
		}
		c.Old = v
	}
	if err := s.pub.Publish(ctx, c); err != nil {
		glog.Errorf("store: publish %s %s change err: %v", op, table, err)
	}
}
