package job

import (
	"context"
	"encoding/json"
	"time"
)

const TaskTypeIndexBuild = "index_build"

// IndexBuildPayload asks the worker to chunk, embed and persist the index
// for one session's document.
type IndexBuildPayload struct {
	SessionID string `json:"session_id"`
}

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job represents a background job
type Job struct {
	ID        int             `json:"id"`
	TaskType  string          `json:"task_type"`
	Payload   json.RawMessage `json:"payload"`
	Status    JobStatus       `json:"status"`
	Error     *string         `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Job) TableName() string {
	return "ingest_jobs"
}

// JobRepository defines the interface for job persistence
type JobRepository interface {
	Create(ctx context.Context, taskType string, payload json.RawMessage) (*Job, error)
	Get(ctx context.Context, id int) (*Job, error)
	ListPending(ctx context.Context) ([]*Job, error)
	UpdateStatus(ctx context.Context, id int, status JobStatus, err *string) error
}

// IndexBuilder runs the ingestion pipeline for a stored document.
type IndexBuilder interface {
	BuildSessionIndex(ctx context.Context, sessionID string) error
}
