package localstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	pebble "github.com/cockroachdb/pebble"

	"go-livechat/internal/conversation"
)

const (
	kvPrefix   = "kv:"
	convPrefix = "conv:"
)

// Store is a pebble-backed KeyValue that also keeps conversation snapshots.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(key string) (string, bool, error) {
	v, err := s.get([]byte(kvPrefix + key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (s *Store) Set(key, value string) error {
	return s.db.Set([]byte(kvPrefix+key), []byte(value), pebble.Sync)
}

func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// SaveConversation writes one conversation snapshot. Transient fields
// (typing) are not persisted.
func (s *Store) SaveConversation(c conversation.Conversation) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", c.SessionID, err)
	}
	return s.db.Set([]byte(convPrefix+c.SessionID), b, pebble.Sync)
}

// SaveConversations writes all snapshots in one batch.
func (s *Store) SaveConversations(convs []conversation.Conversation) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, c := range convs {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", c.SessionID, err)
		}
		if err := batch.Set([]byte(convPrefix+c.SessionID), b, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// LoadConversations reads every snapshot, ordered by session id.
// Undecodable entries are skipped.
func (s *Store) LoadConversations() ([]conversation.Conversation, error) {
	prefix := []byte(convPrefix)
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: []byte(convPrefix[:len(convPrefix)-1] + ";"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []conversation.Conversation
	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			continue
		}
		var c conversation.Conversation
		if err := json.Unmarshal(it.Value(), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, it.Error()
}
