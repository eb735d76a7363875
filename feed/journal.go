package feed

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var journalBucket = []byte("feed_offsets")

// Journal records the last dispatched kafka offset per consumer group in a
// local bbolt file. The kafka commit is the source of truth; the journal only
// lets a restarted consumer skip messages it already dispatched but did not
// manage to commit, keeping the at-least-once replay window small.
type Journal struct {
	db *bolt.DB
}

func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: open journal `%s`: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(journalBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("feed: init journal bucket: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// LastOffset returns the highest recorded offset for the group, and whether
// any offset was recorded at all.
func (j *Journal) LastOffset(group string) (int64, bool, error) {
	var (
		offset int64
		found  bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(journalBucket).Get([]byte(group))
		if len(v) == 8 {
			offset = int64(binary.BigEndian.Uint64(v))
			found = true
		}
		return nil
	})
	return offset, found, err
}

// SetOffset records the offset if it advances past the stored one.
func (j *Journal) SetOffset(group string, offset int64) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(journalBucket)
		key := []byte(group)
		if v := b.Get(key); len(v) == 8 {
			if int64(binary.BigEndian.Uint64(v)) >= offset {
				return nil
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(offset))
		return b.Put(key, buf[:])
	})
}
