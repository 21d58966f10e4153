// Package transcript persists finished transcriptions and reads them back per user.
package transcript

import (
	"context"
	"errors"

	"github.com/nikhilbhutani/audioscribe/internal/models"
)

// ErrPersistence marks datastore faults on either the write or the read path.
var ErrPersistence = errors.New("transcription store unavailable")

type Repository interface {
	// Save inserts a new record. Records are never updated afterwards.
	Save(ctx context.Context, rec *models.TranscriptionRecord) error
	// FindByUser returns the user's records, newest first. A user with no
	// records gets an empty slice.
	FindByUser(ctx context.Context, userID string) ([]models.TranscriptionRecord, error)
}
