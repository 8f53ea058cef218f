package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goclaw/memopt/pkg/memory"
)

const outcomeKeyPrefix = "outcome:"

// BadgerConfig holds configuration for BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the database in memory only.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64

	// Retention expires analyses after this duration. Zero keeps them forever.
	Retention time.Duration
}

// BadgerStore is a Badger-backed outcome store. Keys are ordered by time
// within a user/bot pair so a window read is a single seek plus scan.
type BadgerStore struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time
}

// OpenBadgerStore opens (or creates) a Badger outcome store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("outcome: open badger: %w", err)
	}
	return NewBadgerStore(db, cfg.Retention), nil
}

// NewBadgerStore wraps an already opened Badger database.
func NewBadgerStore(db *badger.DB, retention time.Duration) *BadgerStore {
	return &BadgerStore{db: db, retention: retention, now: time.Now}
}

func pairPrefix(userID, botID string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%s\x00", outcomeKeyPrefix, userID, botID))
}

func analysisKey(a memory.ConversationAnalysis) []byte {
	return []byte(fmt.Sprintf("%s%020d\x00%s", pairPrefix(a.UserID, a.BotID), a.Timestamp.UnixNano(), a.ConversationID))
}

func seekKey(userID, botID string, since time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", pairPrefix(userID, botID), since.UnixNano()))
}

// Record persists an analysis.
func (s *BadgerStore) Record(ctx context.Context, analysis memory.ConversationAnalysis) error {
	if err := Validate(analysis); err != nil {
		return err
	}
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = s.now()
	}
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("outcome: marshal analysis: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(analysisKey(analysis), data)
		if s.retention > 0 {
			entry = entry.WithTTL(s.retention)
		}
		return txn.SetEntry(entry)
	})
}

// GetConversationAnalyses returns analyses inside the window, oldest first.
func (s *BadgerStore) GetConversationAnalyses(ctx context.Context, userID, botID string, daysBack int) ([]memory.ConversationAnalysis, error) {
	since := windowStart(s.now(), daysBack)
	var out []memory.ConversationAnalysis

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pairPrefix(userID, botID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekKey(userID, botID, since)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var a memory.ConversationAnalysis
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return fmt.Errorf("outcome: decode %q: %w", it.Item().Key(), err)
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
