package kvcache

import (
	"context"
	"time"
)

const (
	schedulerHistoryCap = 100
	schedulerStateKey   = "scheduler:state"
	schedulerHistoryKey = "scheduler:history"
)

// SchedulerState is the singleton record for scheduler:state.
type SchedulerState struct {
	Running    bool      `json:"running"`
	LastRunAt  time.Time `json:"lastRunAt"`
	NextRunAt  time.Time `json:"nextRunAt"`
}

// SchedulerRunRecord is one entry in the bounded scheduler:history ring buffer.
type SchedulerRunRecord struct {
	RunID          string    `json:"runId"`
	RunAt          time.Time `json:"runAt"`
	DurationMs     int64     `json:"durationMs"`
	StocksUpdated  int       `json:"stocksUpdated"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

// GetSchedulerState returns the current scheduler singleton state.
func (c *Cache) GetSchedulerState(ctx context.Context) (SchedulerState, bool, error) {
	var s SchedulerState
	found, err := getJSON(ctx, c, schedulerStateKey, &s)
	return s, found, err
}

// SetSchedulerState writes the scheduler singleton state with no TTL: it is
// authoritative process state, refreshed every tick.
func (c *Cache) SetSchedulerState(ctx context.Context, s SchedulerState) error {
	return setJSON(ctx, c, schedulerStateKey, s, 0)
}

// AppendSchedulerHistory pushes rec onto scheduler:history, capped at 100
// entries (oldest dropped).
func (c *Cache) AppendSchedulerHistory(ctx context.Context, rec SchedulerRunRecord) error {
	return pushCapped(ctx, c, schedulerHistoryKey, rec, schedulerHistoryCap, 0)
}

// SchedulerHistory returns the recorded run history, newest first.
func (c *Cache) SchedulerHistory(ctx context.Context) ([]SchedulerRunRecord, error) {
	raw, err := listAll(ctx, c, schedulerHistoryKey)
	if err != nil {
		return nil, err
	}
	history := make([]SchedulerRunRecord, 0, len(raw))
	for _, m := range raw {
		var rec SchedulerRunRecord
		if err := decodeMember(m, &rec); err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, nil
}
