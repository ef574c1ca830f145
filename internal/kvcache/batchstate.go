package kvcache

import (
	"context"
	"time"
)

const (
	batchHistoryCap = 30
	batchTTLSec     = 604800
	batchStateKey   = "batch:state"
	batchHistoryKey = "batch:history"
)

// BatchRunState is one of the daily batch job's lifecycle values.
type BatchRunState string

const (
	BatchRunning   BatchRunState = "running"
	BatchCompleted BatchRunState = "completed"
	BatchFailed    BatchRunState = "failed"
)

// BatchState is the singleton record for batch:state.
type BatchState struct {
	State       BatchRunState `json:"state"`
	StartedAt   time.Time     `json:"startedAt"`
	TargetDate  time.Time     `json:"targetDate"`
	Progress    int           `json:"progress"`
	Total       int           `json:"total"`
	Error       string        `json:"error,omitempty"`
}

// BatchHistoryRecord is one entry in the bounded batch:history ring buffer.
type BatchHistoryRecord struct {
	RunID      string        `json:"runId"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	State      BatchRunState `json:"state"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

// GetBatchState returns the current batch singleton state.
func (c *Cache) GetBatchState(ctx context.Context) (BatchState, bool, error) {
	var s BatchState
	found, err := getJSON(ctx, c, batchStateKey, &s)
	return s, found, err
}

// SetBatchState writes the batch singleton state with the 7-day TTL.
func (c *Cache) SetBatchState(ctx context.Context, s BatchState) error {
	return setJSON(ctx, c, batchStateKey, s, batchTTLSec)
}

// AppendBatchHistory pushes rec onto batch:history, capped at 30 entries.
func (c *Cache) AppendBatchHistory(ctx context.Context, rec BatchHistoryRecord) error {
	return pushCapped(ctx, c, batchHistoryKey, rec, batchHistoryCap, batchTTLSec)
}

// BatchHistory returns the recorded batch run history, newest first.
func (c *Cache) BatchHistory(ctx context.Context) ([]BatchHistoryRecord, error) {
	raw, err := listAll(ctx, c, batchHistoryKey)
	if err != nil {
		return nil, err
	}
	history := make([]BatchHistoryRecord, 0, len(raw))
	for _, m := range raw {
		var rec BatchHistoryRecord
		if err := decodeMember(m, &rec); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, nil
}
