// Package dumper archives the event stream into a local bbolt database,
// one bucket per event kind. The archive is append-only; keys are the
// bucket sequence so arrival order is preserved.
package dumper

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rustyrobot/rustyrobot/kafka"
)

// Archive is a bbolt-backed event archive.
type Archive struct {
	db *bolt.DB
}

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Handler archives every event it sees. Archive failures are internal:
// losing events defeats the point of the dumper, so the message stays
// uncommitted and is redelivered.
func (a *Archive) Handler() kafka.Handler[kafka.Event, kafka.Event] {
	return func(event kafka.Event, _ func(kafka.Event)) *kafka.HandlerError {
		if err := a.Store(event); err != nil {
			return kafka.InternalError(err)
		}
		return nil
	}
}

// Store appends one event to the bucket named after its kind.
func (a *Archive) Store(event kafka.Event) error {
	kind := event.Kind()
	if kind == "" {
		return fmt.Errorf("refusing to archive an empty event")
	}

	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(kind))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", kind, err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to advance sequence in %s: %w", kind, err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

// Kinds lists the event kinds present in the archive.
func (a *Archive) Kinds() ([]string, error) {
	var kinds []string
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			kinds = append(kinds, string(name))
			return nil
		})
	})
	return kinds, err
}

// Count returns how many events of the given kind were archived.
func (a *Archive) Count(kind string) (int, error) {
	var count int
	err := a.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Events returns the archived events of one kind in arrival order.
func (a *Archive) Events(kind string) ([]kafka.Event, error) {
	var events []kafka.Event
	err := a.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(kind))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var event kafka.Event
			if err := event.UnmarshalJSON(value); err != nil {
				return fmt.Errorf("failed to decode archived event: %w", err)
			}
			events = append(events, event)
			return nil
		})
	})
	return events, err
}

// sequenceKey renders a bucket sequence number as a big-endian key so the
// bbolt cursor returns entries in insertion order.
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
