package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nikhilbhutani/audioscribe/internal/filestore"
	"github.com/nikhilbhutani/audioscribe/internal/models"
	"github.com/nikhilbhutani/audioscribe/internal/transcript"
	"github.com/nikhilbhutani/audioscribe/internal/transcription"
)

// countingStore wraps a real store and records how often it was used.
type countingStore struct {
	*filestore.Store
	calls   int
	handles []*filestore.Handle
}

func (s *countingStore) With(ctx context.Context, src io.Reader, filename, contentType string, fn func(*filestore.Handle) error) error {
	s.calls++
	return s.Store.With(ctx, src, filename, contentType, func(h *filestore.Handle) error {
		s.handles = append(s.handles, h)
		return fn(h)
	})
}

func (s *countingStore) empty(t *testing.T) bool {
	t.Helper()
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries) == 0
}

type fakeTranscriber struct {
	calls  int
	result *transcription.Result
	err    error
	seen   []byte
	opts   transcription.Options
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, h *filestore.Handle, opts transcription.Options) (*transcription.Result, error) {
	f.calls++
	f.opts = opts
	f.seen, _ = os.ReadFile(h.Path)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeRepo struct {
	mu      sync.Mutex
	saved   []models.TranscriptionRecord
	saves   int
	finds   int
	saveErr error
}

func (r *fakeRepo) Save(_ context.Context, rec *models.TranscriptionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, *rec)
	return nil
}

func (r *fakeRepo) FindByUser(_ context.Context, userID string) ([]models.TranscriptionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finds++
	out := []models.TranscriptionRecord{}
	for _, rec := range r.saved {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeArchive struct {
	archived  int
	discarded int
	err       error
}

func (a *fakeArchive) Archive(_ context.Context, userID string, h *filestore.Handle) (string, error) {
	a.archived++
	if a.err != nil {
		return "", a.err
	}
	return "https://files.example/" + userID + "/" + h.Name, nil
}

func (a *fakeArchive) Discard(context.Context, string, *filestore.Handle) error {
	a.discarded++
	return nil
}

type fixture struct {
	store *countingStore
	tr    *fakeTranscriber
	repo  *fakeRepo
	orch  *Orchestrator
}

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fs, err := filestore.NewStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	f := &fixture{
		store: &countingStore{Store: fs},
		tr: &fakeTranscriber{result: &transcription.Result{
			JobID: "j1",
			Text:  "hello world",
		}},
		repo: &fakeRepo{},
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	f.orch = New(f.store, f.tr, f.repo, opts...)
	return f
}

func validRequest() Request {
	return Request{
		UserID:      "u1",
		Audio:       strings.NewReader("RIFF....WAVE"),
		Filename:    "clip.wav",
		ContentType: "audio/wav",
	}
}

func TestRun_SuccessPersistsOneRecordAndReleasesFile(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.Run(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if f.repo.saves != 1 || len(f.repo.saved) != 1 {
		t.Fatalf("expected exactly one saved record, got %d", len(f.repo.saved))
	}
	rec := f.repo.saved[0]
	if rec.UserID != "u1" || rec.TranscriptionText != "hello world" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected createdAt %s, got %s", fixedNow, rec.CreatedAt)
	}
	if rec.AudioRef != f.store.handles[0].Name || strings.Contains(rec.AudioRef, "/") {
		t.Errorf("expected bare stored name as audio ref, got %s", rec.AudioRef)
	}
	if rec.Entities == nil || rec.Topics == nil {
		t.Errorf("expected normalized analysis, got %+v", rec.Analysis)
	}
	if res.Record.ID != rec.ID {
		t.Errorf("result and saved record differ")
	}
	if string(f.tr.seen) != "RIFF....WAVE" {
		t.Errorf("transcriber saw %q", f.tr.seen)
	}
	if !f.store.empty(t) {
		t.Error("upload left on disk after success")
	}
}

func TestRun_FailuresReleaseFileAndSaveNothing(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"upload", fmt.Errorf("%w: status 401", transcription.ErrUpload)},
		{"submission", transcription.ErrSubmission},
		{"poll timeout", transcription.ErrPollTimeout},
		{"provider error", &transcription.JobFailedError{JobID: "j1", Detail: "bad audio"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tr.err = tt.err

			_, err := f.orch.Run(context.Background(), validRequest())
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if f.repo.saves != 0 {
				t.Errorf("expected no save, got %d", f.repo.saves)
			}
			if !f.store.empty(t) {
				t.Error("upload left on disk after failure")
			}
			if len(f.store.handles) != 1 {
				t.Errorf("expected a single stored handle, got %d", len(f.store.handles))
			}
		})
	}
}

func TestRun_PersistenceFailureFailsRequest(t *testing.T) {
	archive := &fakeArchive{}
	f := newFixture(t, WithArchiver(archive))
	f.repo.saveErr = transcript.ErrPersistence

	res, err := f.orch.Run(context.Background(), validRequest())
	if !errors.Is(err, transcript.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if res != nil {
		t.Errorf("expected no result when the record was not saved, got %+v", res)
	}
	if archive.archived != 1 || archive.discarded != 1 {
		t.Errorf("expected archived copy to be discarded, archived=%d discarded=%d", archive.archived, archive.discarded)
	}
	if !f.store.empty(t) {
		t.Error("upload left on disk after persistence failure")
	}
}

func TestRun_ArchiveRefUsedWhenAvailable(t *testing.T) {
	archive := &fakeArchive{}
	f := newFixture(t, WithArchiver(archive))

	res, err := f.orch.Run(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(res.Record.AudioRef, "https://files.example/u1/") {
		t.Errorf("expected archived URL, got %s", res.Record.AudioRef)
	}
	if archive.discarded != 0 {
		t.Errorf("unexpected discard")
	}
}

func TestRun_ArchiveFailureFallsBack(t *testing.T) {
	f := newFixture(t, WithArchiver(&fakeArchive{err: errors.New("bucket missing")}))

	res, err := f.orch.Run(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Record.AudioRef != f.store.handles[0].Name {
		t.Errorf("expected stored name as fallback ref, got %s", res.Record.AudioRef)
	}
	if f.repo.saves != 1 {
		t.Errorf("expected record saved, got %d", f.repo.saves)
	}
}

func TestRun_ValidationHappensBeforeAnyIO(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		msg  string
	}{
		{"missing user", Request{Audio: strings.NewReader("x")}, "User ID is required"},
		{"blank user", Request{UserID: "  ", Audio: strings.NewReader("x")}, "User ID is required"},
		{"missing file", Request{UserID: "u1"}, "No audio file uploaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.orch.Run(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Msg != tt.msg {
				t.Errorf("expected message %q, got %v", tt.msg, err)
			}
			if f.store.calls != 0 || f.tr.calls != 0 || f.repo.saves != 0 {
				t.Errorf("collaborators touched: store=%d transcriber=%d repo=%d", f.store.calls, f.tr.calls, f.repo.saves)
			}
		})
	}
}

func TestRun_StoreFailureIsUploadError(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orch.Run(ctx, validRequest())
	if !errors.Is(err, transcription.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	if f.tr.calls != 0 {
		t.Errorf("transcriber should not run")
	}
}

func TestRun_PassesOptions(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.Options = transcription.Options{Entities: true, Chapters: true}

	res, err := f.orch.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if f.tr.opts != req.Options || res.Options != req.Options {
		t.Errorf("options not forwarded: %+v", f.tr.opts)
	}
}

func TestListForUser(t *testing.T) {
	f := newFixture(t)
	if _, err := f.orch.Run(context.Background(), validRequest()); err != nil {
		t.Fatalf("run: %v", err)
	}

	recs, err := f.orch.ListForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 record, got %d", len(recs))
	}

	finds := f.repo.finds
	if _, err := f.orch.ListForUser(context.Background(), ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if f.repo.finds != finds {
		t.Error("repository queried for empty user id")
	}
}
