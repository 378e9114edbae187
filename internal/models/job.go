package models

import "time"

// JobStatus represents the status of a background pipeline job.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobError    JobStatus = "error"
)

// Done reports whether the job has finished, successfully or not.
func (s JobStatus) Done() bool {
	return s == JobComplete || s == JobError
}

// PipelineJob is the polling view of a full pipeline running in the
// background. It is not persisted; the case store holds the durable state.
type PipelineJob struct {
	ID         string          `json:"id"`
	CaseID     string          `json:"case_id"`
	Status     JobStatus       `json:"status"`
	Stage      string          `json:"stage"`
	Message    string          `json:"message"`
	Progress   float64         `json:"progress"` // 0-100
	Error      string          `json:"error,omitempty"`
	ErrorKind  Kind            `json:"error_kind,omitempty"`
	Result     *PipelineResult `json:"result,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// NewPipelineJob creates a job in pending status.
func NewPipelineJob(id, caseID string) *PipelineJob {
	return &PipelineJob{
		ID:        id,
		CaseID:    caseID,
		Status:    JobPending,
		StartedAt: time.Now().UTC(),
	}
}

// PipelineResult is everything the full pipeline produced for a case.
type PipelineResult struct {
	Case          *Case          `json:"case"`
	TranscriptID  string         `json:"transcript_upload_id"`
	PhotoIDs      []string       `json:"photo_upload_ids"`
	SkippedPhotos []string       `json:"skipped_photos,omitempty"`
	Run           *ExtractionRun `json:"run"`
	Requirements  *Requirements  `json:"requirements"`
	Plans         []*Plan        `json:"plans"`
	Documents     []*Document    `json:"documents"`
}
