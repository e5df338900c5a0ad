package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const jobsTopic = "jobs"

// JobService enqueues ingest work on the in-process queue and processes it
// on the subscriber side. The job row in postgres is the durable record;
// jobs still pending after a restart are re-published at startup.
type JobService struct {
	publisher message.Publisher
	repo      JobRepository
	logger    watermill.LoggerAdapter
	builder   IndexBuilder
}

type JobMessage struct {
	JobID    int             `json:"job_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
}

func NewJobService(
	publisher message.Publisher,
	repo JobRepository,
	logger watermill.LoggerAdapter,
	builder IndexBuilder,
) *JobService {
	return &JobService{
		publisher: publisher,
		repo:      repo,
		logger:    logger,
		builder:   builder,
	}
}

// Enqueue creates a job record and publishes it for processing.
func (s *JobService) Enqueue(ctx context.Context, taskType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	jobRecord, err := s.repo.Create(ctx, taskType, raw)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return s.publish(jobRecord)
}

func (s *JobService) publish(jobRecord *Job) error {
	jobMsg := JobMessage{
		JobID:    jobRecord.ID,
		TaskType: jobRecord.TaskType,
		Payload:  jobRecord.Payload,
	}

	msgPayload, err := json.Marshal(jobMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), msgPayload)
	if err := s.publisher.Publish(jobsTopic, msg); err != nil {
		return fmt.Errorf("failed to publish job message: %w", err)
	}

	return nil
}

// RepublishPending re-publishes jobs that never completed before the last
// shutdown. The in-process queue loses in-flight messages on restart, so the
// postgres job rows are the source of truth.
func (s *JobService) RepublishPending(ctx context.Context) error {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, jobRecord := range pending {
		if err := s.publish(jobRecord); err != nil {
			return err
		}
		s.logger.Info("Republished pending job", watermill.LogFields{
			"job_id":    jobRecord.ID,
			"task_type": jobRecord.TaskType,
		})
	}

	return nil
}

// ProcessJobMessage processes a job message from the queue
func (s *JobService) ProcessJobMessage(msg *message.Message) error {
	var jobMsg JobMessage
	if err := json.Unmarshal(msg.Payload, &jobMsg); err != nil {
		return fmt.Errorf("failed to unmarshal job message: %w", err)
	}

	ctx := context.Background()

	jobRecord, err := s.repo.Get(ctx, jobMsg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if jobRecord == nil {
		return fmt.Errorf("job not found: %d", jobMsg.JobID)
	}

	if err := s.repo.UpdateStatus(ctx, jobRecord.ID, JobStatusRunning, nil); err != nil {
		return fmt.Errorf("failed to update job status to running: %w", err)
	}

	err = s.processJob(ctx, jobRecord)
	if err != nil {
		errStr := err.Error()
		if updateErr := s.repo.UpdateStatus(ctx, jobRecord.ID, JobStatusFailed, &errStr); updateErr != nil {
			s.logger.Error("Failed to update job status to failed", updateErr, watermill.LogFields{
				"job_id": jobRecord.ID,
			})
		}
		return fmt.Errorf("failed to process job: %w", err)
	}

	if err := s.repo.UpdateStatus(ctx, jobRecord.ID, JobStatusCompleted, nil); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	return nil
}

func (s *JobService) processJob(ctx context.Context, jobRecord *Job) error {
	switch jobRecord.TaskType {
	case TaskTypeIndexBuild:
		var payload IndexBuildPayload
		if err := json.Unmarshal(jobRecord.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal index build payload: %w", err)
		}
		return s.builder.BuildSessionIndex(ctx, payload.SessionID)
	default:
		return fmt.Errorf("unknown task type: %s", jobRecord.TaskType)
	}
}
