package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/audioscribe/internal/auth"
	"github.com/nikhilbhutani/audioscribe/internal/models"
	"github.com/nikhilbhutani/audioscribe/internal/pipeline"
	"github.com/nikhilbhutani/audioscribe/internal/transcript"
	"github.com/nikhilbhutani/audioscribe/internal/transcription"
)

// formMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const formMemory = 32 << 20

type TranscriptionService interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	ListForUser(ctx context.Context, userID string) ([]models.TranscriptionRecord, error)
}

type TranscriptionHandler struct {
	svc      TranscriptionService
	maxBytes int64
}

func NewTranscriptionHandler(svc TranscriptionService, maxBytes int64) *TranscriptionHandler {
	return &TranscriptionHandler{svc: svc, maxBytes: maxBytes}
}

type transcribeResponse struct {
	Message       string         `json:"message"`
	Transcription string         `json:"transcription"`
	Intelligence  map[string]any `json:"intelligence,omitempty"`
}

// Transcribe accepts a multipart upload and responds once the transcript is
// stored. The request stays open for the whole provider round trip.
func (h *TranscriptionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Audio file is too large")
			return
		}
		slog.Debug("unreadable multipart form", "error", err)
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	userID := formUserID(r.FormValue("userId"), r.FormValue("user_id"))
	if !h.authorized(w, r, userID) {
		return
	}

	req := pipeline.Request{
		UserID: userID,
		Options: transcription.Options{
			Sentiment:     formFlag(r, "sentiment"),
			Entities:      formFlag(r, "entities"),
			Chapters:      formFlag(r, "chapters"),
			ContentSafety: formFlag(r, "contentSafety"),
			Topics:        formFlag(r, "topics"),
		},
	}

	file, header, err := r.FormFile("audio")
	if err == nil {
		defer file.Close()
		req.Audio = file
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
	} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
		slog.Debug("audio part unreadable", "error", err)
	}

	res, err := h.svc.Run(r.Context(), req)
	if err != nil {
		status, msg := errorResponse(err, "Failed to save transcription.")
		logFailure(r, status, err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		Message:       "Transcription saved successfully",
		Transcription: res.Record.TranscriptionText,
		Intelligence:  intelligence(res.Options, res.Record.Analysis),
	})
}

// List returns every transcription of the user, newest first.
func (h *TranscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := formUserID(q.Get("userId"), q.Get("user_id"))
	if !h.authorized(w, r, userID) {
		return
	}

	recs, err := h.svc.ListForUser(r.Context(), userID)
	if err != nil {
		status, msg := errorResponse(err, "Failed to fetch transcriptions")
		logFailure(r, status, err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

// authorized rejects requests whose token belongs to another user. Requests
// without a verified token pass; the router decides whether tokens are required.
func (h *TranscriptionHandler) authorized(w http.ResponseWriter, r *http.Request, userID string) bool {
	sub := auth.SubjectFromContext(r.Context())
	if sub == "" || userID == "" || sub == userID {
		return true
	}
	writeError(w, http.StatusForbidden, "Forbidden")
	return false
}

// errorResponse maps a pipeline error to a status and a client-safe message.
// persistMsg differs between the write and read paths.
func errorResponse(err error, persistMsg string) (int, string) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Msg
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, transcription.ErrUpload):
		return http.StatusInternalServerError, "Error uploading file for transcription."
	case errors.Is(err, transcription.ErrSubmission):
		return http.StatusInternalServerError, "Error starting transcription process."
	case errors.Is(err, transcription.ErrPollTimeout):
		return http.StatusInternalServerError, "Transcription timed out."
	case errors.Is(err, transcription.ErrPoll):
		return http.StatusInternalServerError, "Error during transcription polling."
	case errors.Is(err, transcription.ErrTranscriptionFailed):
		return http.StatusInternalServerError, "Transcription failed."
	case errors.Is(err, transcript.ErrPersistence):
		return http.StatusInternalServerError, persistMsg
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func logFailure(r *http.Request, status int, err error) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed", "path", r.URL.Path, "status", status, "error", err)
}

// intelligence returns the requested analysis sections, or nil when none were requested.
func intelligence(opts transcription.Options, a models.Analysis) map[string]any {
	if !opts.Any() {
		return nil
	}
	out := map[string]any{}
	if opts.Sentiment {
		out["sentiment"] = a.Sentiment
	}
	if opts.Entities {
		out["entities"] = a.Entities
	}
	if opts.Chapters {
		out["chapters"] = a.Chapters
	}
	if opts.ContentSafety {
		out["safetyLabels"] = a.SafetyLabels
	}
	if opts.Topics {
		out["topics"] = a.Topics
	}
	return out
}

func formUserID(primary, legacy string) string {
	if primary != "" {
		return primary
	}
	return legacy
}

func formFlag(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.FormValue(name))
	return err == nil && v
}
