package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goclaw/memopt/pkg/api/middleware"
	"github.com/goclaw/memopt/pkg/api/response"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/goclaw/memopt/pkg/outcome"
)

// OutcomeHandler ingests conversation analyses produced by the surrounding
// application.
type OutcomeHandler struct {
	recorder outcome.Recorder
	logger   Logger
	now      func() time.Time
}

// NewOutcomeHandler creates a new outcome handler.
func NewOutcomeHandler(rec outcome.Recorder, log Logger) *OutcomeHandler {
	if log == nil {
		log = nopLogger{}
	}
	return &OutcomeHandler{recorder: rec, logger: log, now: time.Now}
}

// outcomeLabel accepts either the label ("good") or its ordinal (3).
type outcomeLabel memory.Outcome

func (o *outcomeLabel) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for v := memory.OutcomeFailed; v <= memory.OutcomeExcellent; v++ {
			if v.String() == s {
				*o = outcomeLabel(v)
				return nil
			}
		}
		return fmt.Errorf("unknown outcome %q", s)
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*o = outcomeLabel(n)
	return nil
}

type recordOutcomeRequest struct {
	ConversationID  string           `json:"conversation_id" validate:"required,max=256"`
	UserID          string           `json:"user_id" validate:"required,max=256"`
	BotID           string           `json:"bot_id" validate:"required,max=256"`
	Outcome         *outcomeLabel    `json:"outcome" validate:"required"`
	QualityScore    float64          `json:"quality_score" validate:"gte=0,lte=1"`
	ConfidenceScore float64          `json:"confidence_score" validate:"gte=0,lte=1"`
	MemoryIDs       []string         `json:"memory_ids" validate:"max=1000,dive,required"`
	Patterns        []memory.Pattern `json:"patterns" validate:"max=16"`
	SentimentScore  float64          `json:"sentiment_score" validate:"gte=-1,lte=1"`
	EngagementScore float64          `json:"engagement_score" validate:"gte=0,lte=1"`
	Timestamp       *time.Time       `json:"timestamp"`
}

type recordOutcomeResponse struct {
	ConversationID string    `json:"conversation_id"`
	Outcome        string    `json:"outcome"`
	Timestamp      time.Time `json:"timestamp"`
}

// Record handles POST /api/v1/outcomes
func (h *OutcomeHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req recordOutcomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patterns := make([]memory.Pattern, 0, len(req.Patterns))
	for _, p := range req.Patterns {
		parsed, err := memory.ParsePattern(string(p))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
				fmt.Sprintf("unknown pattern %q", p), middleware.GetRequestID(ctx))
			return
		}
		patterns = append(patterns, parsed)
	}

	analysis := memory.ConversationAnalysis{
		ConversationID:  req.ConversationID,
		UserID:          req.UserID,
		BotID:           req.BotID,
		Outcome:         memory.Outcome(*req.Outcome),
		QualityScore:    req.QualityScore,
		ConfidenceScore: req.ConfidenceScore,
		MemoryIDs:       req.MemoryIDs,
		Patterns:        patterns,
		SentimentScore:  req.SentimentScore,
		EngagementScore: req.EngagementScore,
		Timestamp:       h.now().UTC(),
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		analysis.Timestamp = req.Timestamp.UTC()
	}

	if err := outcome.Validate(analysis); err != nil {
		response.HandleError(w, err, middleware.GetRequestID(ctx))
		return
	}
	if err := h.recorder.Record(ctx, analysis); err != nil {
		if !errors.Is(err, outcome.ErrInvalidAnalysis) {
			h.logger.Error("Failed to record outcome", "conversation_id", analysis.ConversationID, "error", err)
		}
		response.HandleError(w, err, middleware.GetRequestID(ctx))
		return
	}

	h.logger.Debug("Recorded outcome",
		"conversation_id", analysis.ConversationID,
		"user_id", analysis.UserID,
		"bot_id", analysis.BotID,
		"outcome", analysis.Outcome.String(),
	)
	response.JSON(w, http.StatusCreated, recordOutcomeResponse{
		ConversationID: analysis.ConversationID,
		Outcome:        analysis.Outcome.String(),
		Timestamp:      analysis.Timestamp,
	})
}
