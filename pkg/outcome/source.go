// Package outcome provides conversation outcome history sources for the
// effectiveness analyzer: an in-memory store, a Badger-backed store, and a
// guard that bounds latency and call rate of any source.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goclaw/memopt/pkg/memory"
)

// Source returns the conversation analyses of a user/bot pair over the
// trailing daysBack days, oldest first.
type Source interface {
	GetConversationAnalyses(ctx context.Context, userID, botID string, daysBack int) ([]memory.ConversationAnalysis, error)
}

// Recorder persists conversation analyses produced by the surrounding application.
type Recorder interface {
	Record(ctx context.Context, analysis memory.ConversationAnalysis) error
}

// Store is a Source that can also record analyses.
type Store interface {
	Source
	Recorder
	Close() error
}

// ErrInvalidAnalysis is returned when a recorded analysis fails validation.
var ErrInvalidAnalysis = errors.New("outcome: invalid conversation analysis")

// Validate checks the invariants of a conversation analysis before it is stored.
func Validate(a memory.ConversationAnalysis) error {
	switch {
	case a.ConversationID == "":
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidAnalysis)
	case a.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidAnalysis)
	case a.BotID == "":
		return fmt.Errorf("%w: bot_id is required", ErrInvalidAnalysis)
	case a.Outcome < memory.OutcomeFailed || a.Outcome > memory.OutcomeExcellent:
		return fmt.Errorf("%w: outcome %d out of range", ErrInvalidAnalysis, a.Outcome)
	case a.QualityScore < 0 || a.QualityScore > 1:
		return fmt.Errorf("%w: quality_score must be in [0,1]", ErrInvalidAnalysis)
	case a.ConfidenceScore < 0 || a.ConfidenceScore > 1:
		return fmt.Errorf("%w: confidence_score must be in [0,1]", ErrInvalidAnalysis)
	}
	return nil
}

func windowStart(now time.Time, daysBack int) time.Time {
	return now.Add(-time.Duration(daysBack) * 24 * time.Hour)
}
