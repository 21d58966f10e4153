package models

import (
	"time"

	"github.com/google/uuid"
)

type TranscriptionRecord struct {
	ID                uuid.UUID `json:"id" db:"id"`
	UserID            string    `json:"userId" db:"user_id"`
	AudioRef          string    `json:"audioRef" db:"audio_ref"`
	TranscriptionText string    `json:"transcriptionText" db:"transcription_text"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	Analysis
}

// Analysis holds the optional provider annotations attached to a transcript.
// Every field is non-nil after Normalize.
type Analysis struct {
	Sentiment    []SentimentResult  `json:"sentiment" db:"sentiment"`
	Chapters     []Chapter          `json:"chapters" db:"chapters"`
	Entities     []Entity           `json:"entities" db:"entities"`
	Topics       map[string]float64 `json:"topics" db:"topics"`
	SafetyLabels map[string]float64 `json:"safetyLabels" db:"safety_labels"`
}

type SentimentResult struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker,omitempty"`
}

type Chapter struct {
	Gist     string `json:"gist"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

type Entity struct {
	EntityType string `json:"entityType"`
	Text       string `json:"text"`
	Start      int64  `json:"start"`
	End        int64  `json:"end"`
}

const (
	SentimentPositive = "POSITIVE"
	SentimentNeutral  = "NEUTRAL"
	SentimentNegative = "NEGATIVE"
)

// Normalize replaces absent fields with empty values so they encode as [] and {}.
func (a *Analysis) Normalize() {
	if a.Sentiment == nil {
		a.Sentiment = []SentimentResult{}
	}
	if a.Chapters == nil {
		a.Chapters = []Chapter{}
	}
	if a.Entities == nil {
		a.Entities = []Entity{}
	}
	if a.Topics == nil {
		a.Topics = map[string]float64{}
	}
	if a.SafetyLabels == nil {
		a.SafetyLabels = map[string]float64{}
	}
}
