package model

import "time"

const DefaultJobPriority = 10

// JobPayload is what a worker needs to run a task without re-reading params.
type JobPayload struct {
	TaskID  string     `json:"taskId"`
	OwnerID string     `json:"ownerId"`
	Params  TaskParams `json:"params"`
}

// QueueJob mirrors a task inside the job queue. ID is always the task id.
// Attempts counts deliveries, including the one in progress.
type QueueJob struct {
	ID         string
	Payload    JobPayload
	Attempts   int
	Priority   int
	EnqueuedAt time.Time
	LeaseToken string
}

func NewQueueJob(t *Task) QueueJob {
	return QueueJob{
		ID:         t.ID,
		Payload:    JobPayload{TaskID: t.ID, OwnerID: t.OwnerID, Params: t.Params},
		Priority:   DefaultJobPriority,
		EnqueuedAt: time.Now().UTC(),
	}
}

// QueueStats counts jobs by state. Total covers unfinished jobs only
// (waiting, active and delayed); Completed and Failed are retained history.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

// JobRecord is a retained history entry for a finished job.
type JobRecord struct {
	ID         string    `json:"id"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}
