// Package store persists controller events in a bbolt journal so recent
// history survives restarts.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/sweeney/presence-switch/internal/controller"
)

var bucketEvents = []byte("events")

// Record is a journaled event with its sequence number.
type Record struct {
	Seq   uint64           `json:"seq"`
	Event controller.Event `json:"event"`
}

// Journal is an append-only event log capped at a fixed number of
// entries. Keys are big-endian sequence numbers so cursor order is
// insertion order.
type Journal struct {
	db     *bolt.DB
	limit  int
	logger zerolog.Logger
}

// Open opens or creates the journal at path.
func Open(path string, limit int, logger zerolog.Logger) (*Journal, error) {
	if limit < 1 {
		return nil, errors.New("journal limit must be positive")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Journal{db: db, limit: limit, logger: logger}, nil
}

func key(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append stores e and prunes entries beyond the limit.
func (j *Journal) Append(e controller.Event) (uint64, error) {
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketEvents)
		}
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := b.Put(key(seq), data); err != nil {
			return err
		}
		if seq <= uint64(j.limit) {
			return nil
		}
		// Drop everything at or below seq-limit.
		cutoff := seq - uint64(j.limit)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) <= cutoff; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return seq, err
}

// Emit implements controller.Sink. Write failures are logged.
func (j *Journal) Emit(e controller.Event) {
	if _, err := j.Append(e); err != nil {
		j.logger.Error().Err(err).Str("event", string(e.Type)).Msg("journal append failed")
	}
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	records := make([]Record, 0, n)
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var e controller.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, Record{Seq: binary.BigEndian.Uint64(k), Event: e})
		}
		return nil
	})
	return records, err
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
