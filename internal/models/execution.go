package models

import "time"

// ExecutionStatus is the n8n execution state string.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusError   ExecutionStatus = "error"
	StatusRunning ExecutionStatus = "running"
	StatusWaiting ExecutionStatus = "waiting"
	StatusStopped ExecutionStatus = "stopped"
	StatusCrashed ExecutionStatus = "crashed"
)

// Execution is one run of a workflow as cached locally.
type Execution struct {
	ID            string  `json:"id"`
	WorkflowID    string  `json:"workflow_id"`
	Status        string  `json:"status"`
	StartTime     *string `json:"start_time"`
	EndTime       *string `json:"end_time"`
	Duration      *int64  `json:"duration"`
	DataChunkPath *string `json:"data_chunk_path,omitempty"`
	LastSyncTime  int64   `json:"last_sync_time"`
}

// IsFailure reports whether the execution ended unsuccessfully.
func (e *Execution) IsFailure() bool {
	switch ExecutionStatus(e.Status) {
	case StatusFailed, StatusError, StatusCrashed:
		return true
	}
	return false
}

// ExecutionStats is one row of a grouped status count.
type ExecutionStats struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// ExecutionDTO is the n8n API representation of an execution.
type ExecutionDTO struct {
	ID         string              `json:"id"`
	WorkflowID string              `json:"workflowId"`
	Status     string              `json:"status"`
	Start      *string             `json:"start,omitempty"`
	End        *string             `json:"end,omitempty"`
	Nodes      []ExecutionNodeDTO  `json:"nodes,omitempty"`
	Timing     *ExecutionTimingDTO `json:"timing,omitempty"`
}

type ExecutionNodeDTO struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Error  *string        `json:"error,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Start  *string        `json:"start,omitempty"`
	End    *string        `json:"end,omitempty"`
}

type ExecutionTimingDTO struct {
	Start    *string `json:"start,omitempty"`
	End      *string `json:"end,omitempty"`
	Duration *int64  `json:"duration,omitempty"`
}

// ExecutionsResponse is the paginated execution list envelope.
type ExecutionsResponse struct {
	Results    []ExecutionDTO `json:"results"`
	NextCursor *string        `json:"nextCursor,omitempty"`
}

// ToEntity maps the wire shape into a store record synced at syncTime.
func (d *ExecutionDTO) ToEntity(syncTime int64) Execution {
	e := Execution{
		ID:           d.ID,
		WorkflowID:   d.WorkflowID,
		Status:       d.Status,
		StartTime:    d.Start,
		EndTime:      d.End,
		LastSyncTime: syncTime,
	}
	if d.Timing != nil {
		e.Duration = d.Timing.Duration
		if e.StartTime == nil {
			e.StartTime = d.Timing.Start
		}
		if e.EndTime == nil {
			e.EndTime = d.Timing.End
		}
	}
	return e
}

// TimeLayout matches the millisecond UTC timestamps n8n emits. Stored times
// are compared as strings, so cutoffs must use the same layout.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
