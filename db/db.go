package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"reportpilot/faults"
	"reportpilot/models"
)

const (
	sessionPrefix     = "session:"
	interactionPrefix = "interaction:"
)

// DB holds the durable record of sessions and their interactions. Working
// set rows live elsewhere; interactions only reference them by handle.
type DB struct {
	badgerDB *badger.DB
}

func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(dbPath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Disable badger logging for cleaner output
	return open(opts)
}

// NewInMemory opens a throwaway store for tests and the CLI.
func NewInMemory() (*DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*DB, error) {
	badgerDB, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{badgerDB: badgerDB}, nil
}

func (d *DB) Close() error {
	return d.badgerDB.Close()
}

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func interactionKey(sessionID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", interactionPrefix, sessionID, seq))
}

func interactionsOf(sessionID string) []byte {
	return []byte(interactionPrefix + sessionID + ":")
}

func (d *DB) PutSession(s *models.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return faults.Wrap(faults.Storage, "put_session", err)
	}
	err = d.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(s.ID), data)
	})
	return faults.Wrap(faults.Storage, "put_session", err)
}

func (d *DB) GetSession(id string) (*models.Session, error) {
	var s models.Session
	err := d.badgerDB.View(func(txn *badger.Txn) error {
		return get(txn, sessionKey(id), &s)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, faults.New(faults.NotFound, "get_session", "session %s not found", id)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "get_session", err)
	}
	return &s, nil
}

// ListSessions returns every session, most recently active first.
func (d *DB) ListSessions() ([]*models.Session, error) {
	var sessions []*models.Session
	err := d.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var s models.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			sessions = append(sessions, &s)
		}
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "list_sessions", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].LastActive.After(sessions[j].LastActive)
	})
	return sessions, nil
}

// DeleteSession removes the session record and all of its interactions.
// Deleting an unknown session is not an error.
func (d *DB) DeleteSession(id string) error {
	err := d.badgerDB.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = interactionsOf(id)
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		keys = append(keys, sessionKey(id))
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return faults.Wrap(faults.Storage, "delete_session", err)
}

// PutInteraction writes the interaction and bumps the session's LastActive
// in one transaction.
func (d *DB) PutInteraction(i *models.Interaction) error {
	data, err := json.Marshal(i)
	if err != nil {
		return faults.Wrap(faults.Storage, "put_interaction", err)
	}
	err = d.badgerDB.Update(func(txn *badger.Txn) error {
		var s models.Session
		if err := get(txn, sessionKey(i.SessionID), &s); err != nil {
			return err
		}
		if i.CreatedAt.After(s.LastActive) {
			s.LastActive = i.CreatedAt
		}
		sessionData, err := json.Marshal(&s)
		if err != nil {
			return err
		}
		if err := txn.Set(sessionKey(s.ID), sessionData); err != nil {
			return err
		}
		return txn.Set(interactionKey(i.SessionID, i.Seq), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return faults.New(faults.NotFound, "put_interaction", "session %s not found", i.SessionID)
	}
	return faults.Wrap(faults.Storage, "put_interaction", err)
}

func (d *DB) GetInteraction(sessionID string, seq int) (*models.Interaction, error) {
	var i models.Interaction
	err := d.badgerDB.View(func(txn *badger.Txn) error {
		return get(txn, interactionKey(sessionID, seq), &i)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, faults.New(faults.NotFound, "get_interaction", "interaction %d of session %s not found", seq, sessionID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "get_interaction", err)
	}
	return &i, nil
}

// ListInteractions returns a session's interactions in sequence order.
func (d *DB) ListInteractions(sessionID string) ([]*models.Interaction, error) {
	var out []*models.Interaction
	err := d.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = interactionsOf(sessionID)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var i models.Interaction
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &i)
			}); err != nil {
				return err
			}
			out = append(out, &i)
		}
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "list_interactions", err)
	}
	return out, nil
}

// LastInteraction returns the newest interaction, or nil when the session
// has none.
func (d *DB) LastInteraction(sessionID string) (*models.Interaction, error) {
	var last *models.Interaction
	err := d.badgerDB.View(func(txn *badger.Txn) error {
		prefix := interactionsOf(sessionID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		// reverse iteration starts from the largest key <= seek
		seek := append(append([]byte(nil), prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var i models.Interaction
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &i)
		}); err != nil {
			return err
		}
		last = &i
		return nil
	})
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "last_interaction", err)
	}
	return last, nil
}

// NextSeq is one past the newest interaction's Seq. Callers serialize per
// session, so no reservation is needed.
func (d *DB) NextSeq(sessionID string) (int, error) {
	last, err := d.LastInteraction(sessionID)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 1, nil
	}
	return last.Seq + 1, nil
}

func (d *DB) UpdateSummary(sessionID string, seq int, summary string) (*models.Interaction, error) {
	var updated models.Interaction
	err := d.badgerDB.Update(func(txn *badger.Txn) error {
		key := interactionKey(sessionID, seq)
		if err := get(txn, key, &updated); err != nil {
			return err
		}
		updated.Summary = strings.TrimSpace(summary)
		data, err := json.Marshal(&updated)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, faults.New(faults.NotFound, "update_summary", "interaction %d of session %s not found", seq, sessionID)
	}
	if err != nil {
		return nil, faults.Wrap(faults.Storage, "update_summary", err)
	}
	return &updated, nil
}

// RunGC reclaims value log space; in-memory stores and logs with nothing to
// rewrite are not errors.
func (d *DB) RunGC() error {
	err := d.badgerDB.RunValueLogGC(0.5)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return faults.Wrap(faults.Storage, "gc", err)
}

func get(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}
