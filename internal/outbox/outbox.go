// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package outbox persists not-yet-confirmed outgoing messages to
// BadgerDB (ACID, fsync) so that a reload never silently drops an
// in-flight send. An entry is written before the network call fires and
// removed only on a terminal success acknowledgment; failed sends keep
// their entry so the user can retry after a restart.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/vicinity-app/chatsync/internal/chat"
	"github.com/vicinity-app/chatsync/internal/logging"
	"github.com/vicinity-app/chatsync/internal/metrics"
)

// ErrClosed is returned by operations against a closed outbox.
var ErrClosed = errors.New("outbox: closed")

// ErrNotFound is returned when no entry exists for the given ids.
var ErrNotFound = errors.New("outbox: entry not found")

const keyPrefix = "outbox:"

// Config holds outbox storage configuration.
type Config struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path" validate:"required_without=InMemory"`

	// SyncWrites forces fsync on every write. Durability is the point
	// of this store, so it defaults to true.
	SyncWrites bool `koanf:"sync_writes"`

	// InMemory runs the store without disk persistence. Tests only.
	InMemory bool `koanf:"in_memory"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:       "/data/chatsync/outbox",
		SyncWrites: true,
	}
}

// Entry is the durable record of one pending outgoing message.
type Entry struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
	Attempts       int             `json:"attempts"`
	LastAttemptAt  time.Time       `json:"last_attempt_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
}

// Message deserializes the entry's payload.
func (e *Entry) Message() (*chat.Message, error) {
	var msg chat.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
	}
	return &msg, nil
}

// Outbox is the BadgerDB-backed pending queue.
type Outbox struct {
	db *badger.DB

	mu     sync.Mutex
	closed bool
}

// Open creates or opens the outbox store at the configured path.
func Open(cfg Config) (*Outbox, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox store: %w", err)
	}

	o := &Outbox{db: db}
	depth, err := o.Depth(context.Background())
	if err == nil {
		metrics.OutboxDepth.Set(float64(depth))
	}

	logging.Info().
		Str("component", "outbox").
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Int("pending", depth).
		Msg("outbox opened")
	return o, nil
}

func key(roomID, messageID string) []byte {
	return []byte(keyPrefix + roomID + ":" + messageID)
}

// Persist writes a not-yet-confirmed message before its network call.
// Persisting the same id again overwrites the entry (retry path).
func (o *Outbox) Persist(ctx context.Context, msg *chat.Message) error {
	if err := o.guard(ctx); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("persist outbox entry: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	entry := Entry{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Payload:        payload,
		CreatedAt:      msg.CreatedAt,
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal outbox entry: %w", err)
	}

	err = o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(msg.ConversationID, msg.ID), data)
	})
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	metrics.OutboxDepth.Inc()
	return nil
}

// MarkFailed records a failed attempt on an existing entry. The stored
// message flips to the failed state so a rehydrate after reload shows
// the failure instead of an eternally-sending message.
func (o *Outbox) MarkFailed(ctx context.Context, roomID, messageID, reason string) error {
	if err := o.guard(ctx); err != nil {
		return err
	}

	return o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(roomID, messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read outbox entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("decode outbox entry: %w", err)
		}

		msg, err := entry.Message()
		if err != nil {
			return err
		}
		msg.State = chat.StateFailed
		if entry.Payload, err = json.Marshal(msg); err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}
		entry.Attempts++
		entry.LastAttemptAt = time.Now().UTC()
		entry.LastError = reason

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal outbox entry: %w", err)
		}
		return txn.Set(key(roomID, messageID), data)
	})
}

// MarkPending flips a failed entry back to pending for a retry.
func (o *Outbox) MarkPending(ctx context.Context, roomID, messageID string) error {
	if err := o.guard(ctx); err != nil {
		return err
	}

	return o.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(roomID, messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read outbox entry: %w", err)
		}

		var entry Entry
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("decode outbox entry: %w", err)
		}

		msg, err := entry.Message()
		if err != nil {
			return err
		}
		msg.State = chat.StatePending
		if entry.Payload, err = json.Marshal(msg); err != nil {
			return fmt.Errorf("marshal outbox payload: %w", err)
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshal outbox entry: %w", err)
		}
		return txn.Set(key(roomID, messageID), data)
	})
}

// Remove deletes an entry after a terminal success acknowledgment, or
// when the user discards a failed message, or on a server rollback.
// Removing an absent entry is not an error.
func (o *Outbox) Remove(ctx context.Context, roomID, messageID string) error {
	if err := o.guard(ctx); err != nil {
		return err
	}

	removed := false
	err := o.db.Update(func(txn *badger.Txn) error {
		k := key(roomID, messageID)
		if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		removed = true
		return txn.Delete(k)
	})
	if err != nil {
		return fmt.Errorf("remove outbox entry: %w", err)
	}
	if removed {
		metrics.OutboxDepth.Dec()
	}
	return nil
}

// Entry reads a single entry.
func (o *Outbox) Entry(ctx context.Context, roomID, messageID string) (*Entry, error) {
	if err := o.guard(ctx); err != nil {
		return nil, err
	}

	var entry Entry
	err := o.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(roomID, messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Rehydrate returns every durable entry's message, ordered by creation
// time, so a restarting session can repopulate its transcripts before
// any network activity. Entries that fail to decode are dropped with a
// warning rather than blocking the rest.
func (o *Outbox) Rehydrate(ctx context.Context) ([]*chat.Message, error) {
	if err := o.guard(ctx); err != nil {
		return nil, err
	}

	var msgs []*chat.Message
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				logging.Warn().Err(err).Str("component", "outbox").Msg("dropping undecodable outbox entry")
				continue
			}
			msg, err := entry.Message()
			if err != nil {
				logging.Warn().Err(err).Str("component", "outbox").Str("id", entry.ID).Msg("dropping undecodable outbox payload")
				continue
			}
			if msg.State == "" {
				msg.State = chat.StatePending
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rehydrate outbox: %w", err)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	metrics.OutboxRehydrated.Add(float64(len(msgs)))
	return msgs, nil
}

// Depth counts the durable entries.
func (o *Outbox) Depth(ctx context.Context) (int, error) {
	if err := o.guard(ctx); err != nil {
		return 0, err
	}

	count := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", err)
	}
	return count, nil
}

// Close shuts the store down. Subsequent operations return ErrClosed.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.db.Close()
}

func (o *Outbox) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	return nil
}
