package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/memopt/pkg/api/response"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/goclaw/memopt/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, memory.ConversationAnalysis) error { return f.err }

func postOutcome(h *OutcomeHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/outcomes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Record(w, req)
	return w
}

func TestOutcomeHandler_Record(t *testing.T) {
	store := outcome.NewMemoryStore()
	h := NewOutcomeHandler(store, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	tests := []struct {
		name    string
		body    string
		outcome memory.Outcome
	}{
		{
			name:    "label",
			body:    `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":"Excellent","quality_score":0.9,"confidence_score":0.8,"memory_ids":["m1"],"patterns":["factual_recall"]}`,
			outcome: memory.OutcomeExcellent,
		},
		{
			name:    "ordinal",
			body:    `{"conversation_id":"c2","user_id":"u1","bot_id":"b1","outcome":1,"quality_score":0.2,"confidence_score":0.5}`,
			outcome: memory.OutcomePoor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postOutcome(h, tt.body)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

			var resp recordOutcomeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.outcome.String(), resp.Outcome)
			assert.Equal(t, now, resp.Timestamp)
		})
	}

	got, err := store.GetConversationAnalyses(context.Background(), "u1", "b1", 3650)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len("u1", "b1"))
	require.Len(t, got, 2)
}

func TestOutcomeHandler_Record_KeepsTimestamp(t *testing.T) {
	store := outcome.NewMemoryStore()
	h := NewOutcomeHandler(store, nil)

	w := postOutcome(h, `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":"good","timestamp":"2026-02-01T08:00:00+02:00"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp recordOutcomeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC), resp.Timestamp)
}

func TestOutcomeHandler_Record_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "unknown label", body: `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":"meh"}`, wantCode: response.ErrCodeBadRequest},
		{name: "missing outcome", body: `{"conversation_id":"c1","user_id":"u1","bot_id":"b1"}`, wantCode: response.ErrCodeValidationFailed},
		{name: "missing user", body: `{"conversation_id":"c1","bot_id":"b1","outcome":"good"}`, wantCode: response.ErrCodeValidationFailed},
		{name: "score out of range", body: `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":"good","quality_score":1.5}`, wantCode: response.ErrCodeValidationFailed},
		{name: "ordinal out of range", body: `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":7}`, wantCode: response.ErrCodeBadRequest},
		{name: "unknown pattern", body: `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":"good","patterns":["gossip"]}`, wantCode: response.ErrCodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := outcome.NewMemoryStore()
			w := postOutcome(NewOutcomeHandler(store, nil), tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error.Code)
			assert.Equal(t, 0, store.Len("u1", "b1"))
		})
	}
}

func TestOutcomeHandler_Record_StoreFailure(t *testing.T) {
	h := NewOutcomeHandler(failingRecorder{err: errors.New("disk full")}, nil)

	w := postOutcome(h, `{"conversation_id":"c1","user_id":"u1","bot_id":"b1","outcome":"good"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decodeError(t, w).Error.Message)
}
