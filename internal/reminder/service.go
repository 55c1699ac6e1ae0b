// Package reminder stores pending attendee reminders in BadgerDB.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const keyPrefix = "reminder:"

// Reminder is one pending alarm of an attendee on an appointment.
type Reminder struct {
	ContextID int64     `json:"context_id"`
	TargetID  int64     `json:"target_id"`
	UserID    int64     `json:"user_id"`
	Trigger   time.Time `json:"trigger"`
}

// Service implements calendar.Reminders.
type Service struct {
	db *badger.DB
}

func NewService(db *badger.DB) *Service {
	return &Service{db: db}
}

// Open opens a Badger database at path, or an in-memory one when path is
// empty.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open reminder store: %w", err)
	}
	return db, nil
}

func key(contextID, targetID, userID int64) []byte {
	return fmt.Appendf(nil, "%s%d:%d:%d", keyPrefix, contextID, targetID, userID)
}

func targetPrefix(contextID, targetID int64) []byte {
	return fmt.Appendf(nil, "%s%d:%d:", keyPrefix, contextID, targetID)
}

// Upsert schedules or moves the reminder of userID on targetID.
func (s *Service) Upsert(_ context.Context, contextID, targetID, userID int64, trigger time.Time) error {
	data, err := json.Marshal(Reminder{ContextID: contextID, TargetID: targetID, UserID: userID, Trigger: trigger.UTC()})
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(contextID, targetID, userID), data)
	})
}

// Delete removes the reminder of userID on targetID. A userID of 0 removes
// every reminder on the target. Missing reminders are not an error.
func (s *Service) Delete(_ context.Context, contextID, targetID, userID int64) error {
	if userID != 0 {
		return s.db.Update(func(txn *badger.Txn) error {
			err := txn.Delete(key(contextID, targetID, userID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		})
	}
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := targetPrefix(contextID, targetID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the reminder of userID on targetID.
func (s *Service) Get(_ context.Context, contextID, targetID, userID int64) (Reminder, bool, error) {
	var r Reminder
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(contextID, targetID, userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Reminder{}, false, nil
	}
	if err != nil {
		return Reminder{}, false, fmt.Errorf("get reminder: %w", err)
	}
	return r, true, nil
}

// Due returns all reminders of the context that trigger before t, oldest
// first.
func (s *Service) Due(_ context.Context, contextID int64, t time.Time) ([]Reminder, error) {
	prefix := fmt.Appendf(nil, "%s%d:", keyPrefix, contextID)
	var out []Reminder
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Reminder
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if r.Trigger.Before(t) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	sortByTrigger(out)
	return out, nil
}

func sortByTrigger(rs []Reminder) {
	slices.SortFunc(rs, func(a, b Reminder) int {
		return a.Trigger.Compare(b.Trigger)
	})
}
