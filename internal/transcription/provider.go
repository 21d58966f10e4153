package transcription

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikhilbhutani/audioscribe/internal/filestore"
	"github.com/nikhilbhutani/audioscribe/internal/models"
)

// Options selects the analysis features requested alongside the transcript.
type Options struct {
	Sentiment     bool `json:"sentiment"`
	Entities      bool `json:"entities"`
	Chapters      bool `json:"chapters"`
	ContentSafety bool `json:"contentSafety"`
	Topics        bool `json:"topics"`
}

// Any reports whether at least one analysis feature was requested.
func (o Options) Any() bool {
	return o.Sentiment || o.Entities || o.Chapters || o.ContentSafety || o.Topics
}

// Result is the final snapshot of a completed provider job.
type Result struct {
	JobID    string          `json:"jobId"`
	Text     string          `json:"text"`
	Analysis models.Analysis `json:"analysis"`
}

// Transcriber turns a stored upload into a finished transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio *filestore.Handle, opts Options) (*Result, error)
	Name() string
}

// Status is the lifecycle state of a provider job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

var (
	ErrUpload              = errors.New("upload failed")
	ErrSubmission          = errors.New("job submission failed")
	ErrPoll                = errors.New("job status check failed")
	ErrPollTimeout         = errors.New("job did not finish in time")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// JobFailedError carries the provider's reason for a job ending in error.
type JobFailedError struct {
	JobID  string
	Detail string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("transcription job %s failed: %s", e.JobID, e.Detail)
}

func (e *JobFailedError) Is(target error) bool {
	return target == ErrTranscriptionFailed
}
