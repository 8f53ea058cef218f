package outcome

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goclaw/memopt/pkg/memory"
)

// MemoryStore is an in-memory outcome store, mainly for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	analyses map[string][]memory.ConversationAnalysis
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory outcome store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		analyses: make(map[string][]memory.ConversationAnalysis),
		now:      time.Now,
	}
}

func pairKey(userID, botID string) string {
	return userID + "\x00" + botID
}

// Record stores an analysis.
func (s *MemoryStore) Record(ctx context.Context, analysis memory.ConversationAnalysis) error {
	if err := Validate(analysis); err != nil {
		return err
	}
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = s.now()
	}
	analysis.MemoryIDs = append([]string(nil), analysis.MemoryIDs...)
	analysis.Patterns = append([]memory.Pattern(nil), analysis.Patterns...)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(analysis.UserID, analysis.BotID)
	s.analyses[key] = append(s.analyses[key], analysis)
	return nil
}

// GetConversationAnalyses returns analyses inside the window, oldest first.
func (s *MemoryStore) GetConversationAnalyses(ctx context.Context, userID, botID string, daysBack int) ([]memory.ConversationAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	since := windowStart(s.now(), daysBack)

	s.mu.RLock()
	all := s.analyses[pairKey(userID, botID)]
	out := make([]memory.ConversationAnalysis, 0, len(all))
	for _, a := range all {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Len returns the number of stored analyses for a pair.
func (s *MemoryStore) Len(userID, botID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.analyses[pairKey(userID, botID)])
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
