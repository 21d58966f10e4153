// Package pipeline drives one upload through storage, transcription and
// persistence, and owns the cleanup of the uploaded file.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/audioscribe/internal/filestore"
	"github.com/nikhilbhutani/audioscribe/internal/models"
	"github.com/nikhilbhutani/audioscribe/internal/transcript"
	"github.com/nikhilbhutani/audioscribe/internal/transcription"
)

// State is the position of one run in its lifecycle.
type State string

const (
	StateReceived  State = "received"
	StateStored    State = "stored"
	StateUploading State = "uploading"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// FileStore holds the upload for the duration of fn and removes it afterwards.
type FileStore interface {
	With(ctx context.Context, src io.Reader, filename, contentType string, fn func(*filestore.Handle) error) error
}

// Archiver keeps a durable copy of the audio referenced by a record.
type Archiver interface {
	Archive(ctx context.Context, userID string, audio *filestore.Handle) (string, error)
	Discard(ctx context.Context, userID string, audio *filestore.Handle) error
}

type Request struct {
	UserID      string
	Audio       io.Reader
	Filename    string
	ContentType string
	Options     transcription.Options
}

func (r Request) validate() error {
	if r.Audio == nil {
		return invalid("No audio file uploaded")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return invalid("User ID is required")
	}
	return nil
}

type Result struct {
	Record  *models.TranscriptionRecord
	Options transcription.Options
}

type Orchestrator struct {
	store       FileStore
	transcriber transcription.Transcriber
	repo        transcript.Repository
	archive     Archiver
	now         func() time.Time
}

type Option func(*Orchestrator)

// WithArchiver stores a copy of each transcribed file and records its URL.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archive = a }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(store FileStore, t transcription.Transcriber, repo transcript.Repository, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		transcriber: t,
		repo:        repo,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run tracks the state of a single request for logging.
type run struct {
	userID string
	jobID  string
	state  State
	start  time.Time
}

func (r *run) enter(s State) {
	r.state = s
	slog.Info("transcription pipeline", "state", s, "user_id", r.userID, "job_id", r.jobID)
}

// Run transcribes req.Audio and persists the result. The stored upload is
// removed before Run returns, on success and on every failure.
//
// A failed save fails the run with transcript.ErrPersistence; the transcript
// is not returned in that case.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	r := &run{userID: req.UserID, start: o.now()}
	r.enter(StateReceived)

	var (
		rec    *models.TranscriptionRecord
		stored bool
	)
	err := o.store.With(ctx, req.Audio, req.Filename, req.ContentType, func(h *filestore.Handle) error {
		stored = true
		r.enter(StateStored)

		tctx := transcription.WithProgress(ctx, func(stage transcription.Stage, jobID string) {
			r.jobID = jobID
			r.enter(State(stage))
		})
		res, err := o.transcriber.Transcribe(tctx, h, req.Options)
		if err != nil {
			return err
		}

		rec = &models.TranscriptionRecord{
			ID:                uuid.New(),
			UserID:            req.UserID,
			TranscriptionText: res.Text,
			CreatedAt:         o.now().UTC(),
			Analysis:          res.Analysis,
		}
		rec.Normalize()

		ref, archived := o.audioRef(ctx, req.UserID, h)
		rec.AudioRef = ref

		if err := o.repo.Save(ctx, rec); err != nil {
			if archived {
				if derr := o.archive.Discard(context.WithoutCancel(ctx), req.UserID, h); derr != nil {
					slog.Error("failed to discard archived audio", "user_id", req.UserID, "error", derr)
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		if !stored {
			err = fmt.Errorf("%w: store upload: %w", transcription.ErrUpload, err)
		}
		slog.Error("transcription pipeline failed",
			"state", StateFailed, "failed_in", r.state, "user_id", r.userID, "job_id", r.jobID,
			"error", err, "duration", o.now().Sub(r.start))
		return nil, err
	}

	r.enter(StateCompleted)
	return &Result{Record: rec, Options: req.Options}, nil
}

// audioRef archives the file when an archive is configured and returns its URL.
// Without an archive the stored name is kept; it identifies the upload in logs
// but does not resolve to a file once the run has finished.
func (o *Orchestrator) audioRef(ctx context.Context, userID string, h *filestore.Handle) (string, bool) {
	local := h.Name
	if o.archive == nil {
		return local, false
	}
	url, err := o.archive.Archive(ctx, userID, h)
	if err != nil {
		slog.Warn("audio archive failed, keeping local reference", "user_id", userID, "error", err)
		return local, false
	}
	return url, true
}

// ListForUser returns the user's records, newest first.
func (o *Orchestrator) ListForUser(ctx context.Context, userID string) ([]models.TranscriptionRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("User ID is required")
	}
	return o.repo.FindByUser(ctx, userID)
}
