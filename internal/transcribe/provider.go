package transcribe

import (
	"context"
	"errors"
	"fmt"
)

// JobService is the interface for asynchronous speech-to-text backends.
type JobService interface {
	// Submit starts a named job. Names must be unique per call.
	Submit(ctx context.Context, req JobRequest) error
	// Status returns the current state of a submitted job.
	Status(ctx context.Context, name string) (*Job, error)
	Name() string // "aws-transcribe"
}

// JobRequest describes a transcription job submission.
type JobRequest struct {
	Name         string
	MediaURI     string
	LanguageCode string // BCP-47, e.g. "ta-IN"
	MediaFormat  string // container, e.g. "mp3"; empty lets the service detect it
}

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the job will not change state again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Job is the polled view of a transcription job. It is never persisted.
type Job struct {
	Name          string
	Status        Status
	ResultURI     string // set when completed
	FailureReason string
}

// ErrTimeout is returned when a job does not finish within the poll bound.
var ErrTimeout = errors.New("transcription job timed out")

// FailedError is returned when a job ends failed or canceled.
type FailedError struct {
	JobName string
	Status  Status
	Reason  string
}

func (e *FailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transcription job %s %s: %s", e.JobName, e.Status, e.Reason)
	}
	return fmt.Sprintf("transcription job %s %s", e.JobName, e.Status)
}

// UpstreamError wraps a failure talking to the job service or fetching the
// result document.
type UpstreamError struct {
	JobName string
	Stage   string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("transcription job %s: %s: %v", e.JobName, e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
