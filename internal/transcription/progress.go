package transcription

import "context"

// Stage marks how far a Transcribe call has progressed.
type Stage string

const (
	StageUploading Stage = "uploading"
	StageSubmitted Stage = "submitted"
	StagePolling   Stage = "polling"
)

// ProgressFunc is called synchronously on each stage change. jobID is empty
// until the job has been submitted.
type ProgressFunc func(stage Stage, jobID string)

type progressKey struct{}

// WithProgress returns a context whose Transcribe calls report to fn.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func report(ctx context.Context, stage Stage, jobID string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(stage, jobID)
	}
}
