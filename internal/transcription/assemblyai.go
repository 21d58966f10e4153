package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nikhilbhutani/audioscribe/internal/filestore"
	"github.com/nikhilbhutani/audioscribe/internal/models"
)

const (
	DefaultBaseURL         = "https://api.assemblyai.com/v2"
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 20
)

// AssemblyAIConfig holds configuration for the AssemblyAI backend.
type AssemblyAIConfig struct {
	APIKey          string
	BaseURL         string        // default: DefaultBaseURL
	PollInterval    time.Duration // default: 5s
	MaxPollAttempts int           // default: 20
	HTTPTimeout     time.Duration // per call, default: 2m
}

// AssemblyAI runs the upload, submit and poll sequence against the AssemblyAI v2 API.
type AssemblyAI struct {
	cfg        AssemblyAIConfig
	httpClient *http.Client
	wait       func(ctx context.Context, d time.Duration) error
}

// NewAssemblyAI creates a client with defaults applied. A missing API key is
// rejected here rather than on the first request.
func NewAssemblyAI(cfg AssemblyAIConfig) (*AssemblyAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assemblyai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	return &AssemblyAI{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		wait:       sleep,
	}, nil
}

func (a *AssemblyAI) Name() string { return "assemblyai" }

// Transcribe uploads the audio, submits a job and polls it until it finishes.
func (a *AssemblyAI) Transcribe(ctx context.Context, audio *filestore.Handle, opts Options) (*Result, error) {
	report(ctx, StageUploading, "")
	uploadURL, err := a.upload(ctx, audio)
	if err != nil {
		return nil, err
	}

	jobID, err := a.submit(ctx, uploadURL, opts)
	if err != nil {
		return nil, err
	}
	report(ctx, StageSubmitted, jobID)
	slog.Info("transcription job submitted", "job_id", jobID, "provider", a.Name())

	report(ctx, StagePolling, jobID)
	return a.poll(ctx, jobID)
}

func (a *AssemblyAI) upload(ctx context.Context, audio *filestore.Handle) (string, error) {
	f, err := audio.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open audio file: %w", ErrUpload, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/upload", f)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	req.ContentLength = audio.Size
	req.Header.Set("Content-Type", "application/octet-stream")

	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := a.do(req, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("%w: response has no upload_url", ErrUpload)
	}
	return out.UploadURL, nil
}

type submitRequest struct {
	AudioURL          string `json:"audio_url"`
	SentimentAnalysis bool   `json:"sentiment_analysis,omitempty"`
	EntityDetection   bool   `json:"entity_detection,omitempty"`
	AutoChapters      bool   `json:"auto_chapters,omitempty"`
	ContentSafety     bool   `json:"content_safety,omitempty"`
	IABCategories     bool   `json:"iab_categories,omitempty"`
}

func (a *AssemblyAI) submit(ctx context.Context, audioURL string, opts Options) (string, error) {
	body, err := json.Marshal(submitRequest{
		AudioURL:          audioURL,
		SentimentAnalysis: opts.Sentiment,
		EntityDetection:   opts.Entities,
		AutoChapters:      opts.Chapters,
		ContentSafety:     opts.ContentSafety,
		IABCategories:     opts.Topics,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", ErrSubmission, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID string `json:"id"`
	}
	if err := a.do(req, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: response has no job id", ErrSubmission)
	}
	return out.ID, nil
}

// transcriptResponse is the subset of the job resource this service reads.
type transcriptResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Text     string `json:"text"`
	Error    string `json:"error"`
	Entities []struct {
		EntityType string `json:"entity_type"`
		Text       string `json:"text"`
		Start      int64  `json:"start"`
		End        int64  `json:"end"`
	} `json:"entities"`
	SentimentAnalysisResults []struct {
		Text       string  `json:"text"`
		Start      int64   `json:"start"`
		End        int64   `json:"end"`
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
		Speaker    *string `json:"speaker"`
	} `json:"sentiment_analysis_results"`
	Chapters []struct {
		Gist     string `json:"gist"`
		Headline string `json:"headline"`
		Summary  string `json:"summary"`
		Start    int64  `json:"start"`
		End      int64  `json:"end"`
	} `json:"chapters"`
	ContentSafetyLabels *struct {
		Summary map[string]float64 `json:"summary"`
	} `json:"content_safety_labels"`
	IABCategoriesResult *struct {
		Summary map[string]float64 `json:"summary"`
	} `json:"iab_categories_result"`
}

func (a *AssemblyAI) poll(ctx context.Context, jobID string) (*Result, error) {
	for attempt := 1; attempt <= a.cfg.MaxPollAttempts; attempt++ {
		job, err := a.fetch(ctx, jobID)
		if err != nil {
			return nil, err
		}

		status, err := ParseStatus(job.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: job %s: %w", ErrPoll, jobID, err)
		}

		switch status {
		case StatusCompleted:
			return job.result(), nil
		case StatusError:
			return nil, &JobFailedError{JobID: jobID, Detail: job.Error}
		case StatusQueued, StatusProcessing:
			slog.Debug("transcription job pending", "job_id", jobID, "status", status, "attempt", attempt)
		}

		if attempt < a.cfg.MaxPollAttempts {
			if err := a.wait(ctx, a.cfg.PollInterval); err != nil {
				return nil, fmt.Errorf("%w: job %s: %w", ErrPoll, jobID, err)
			}
		}
	}
	return nil, fmt.Errorf("%w: job %s still pending after %d checks", ErrPollTimeout, jobID, a.cfg.MaxPollAttempts)
}

func (a *AssemblyAI) fetch(ctx context.Context, jobID string) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/transcript/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoll, err)
	}
	var job transcriptResponse
	if err := a.do(req, &job); err != nil {
		return nil, fmt.Errorf("%w: job %s: %w", ErrPoll, jobID, err)
	}
	return &job, nil
}

func (t *transcriptResponse) result() *Result {
	res := &Result{JobID: t.ID, Text: t.Text}
	an := &res.Analysis

	for _, e := range t.Entities {
		an.Entities = append(an.Entities, models.Entity{
			EntityType: e.EntityType,
			Text:       e.Text,
			Start:      e.Start,
			End:        e.End,
		})
	}
	for _, s := range t.SentimentAnalysisResults {
		r := models.SentimentResult{
			Text:       s.Text,
			Start:      s.Start,
			End:        s.End,
			Sentiment:  s.Sentiment,
			Confidence: s.Confidence,
		}
		if s.Speaker != nil {
			r.Speaker = *s.Speaker
		}
		an.Sentiment = append(an.Sentiment, r)
	}
	for _, c := range t.Chapters {
		an.Chapters = append(an.Chapters, models.Chapter{
			Gist:     c.Gist,
			Headline: c.Headline,
			Summary:  c.Summary,
			Start:    c.Start,
			End:      c.End,
		})
	}
	if t.IABCategoriesResult != nil {
		an.Topics = t.IABCategoriesResult.Summary
	}
	if t.ContentSafetyLabels != nil {
		an.SafetyLabels = t.ContentSafetyLabels.Summary
	}

	an.Normalize()
	return res
}

// do sends req with credentials and decodes a 2xx JSON body into out.
func (a *AssemblyAI) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", a.cfg.APIKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d: %s", req.URL.Path, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
