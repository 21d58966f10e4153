package storage

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nikhilbhutani/audioscribe/internal/filestore"
)

// AudioArchive keeps a durable copy of transcribed audio in an object bucket so
// records can point at something that outlives the transient upload.
type AudioArchive struct {
	store  Storage
	bucket string
}

func NewAudioArchive(store Storage, bucket string) *AudioArchive {
	return &AudioArchive{store: store, bucket: bucket}
}

func objectPath(userID string, audio *filestore.Handle) string {
	return url.PathEscape(userID) + "/" + audio.Name
}

// Archive uploads the audio under the user's prefix and returns its public URL.
func (a *AudioArchive) Archive(ctx context.Context, userID string, audio *filestore.Handle) (string, error) {
	f, err := audio.Open()
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	path := objectPath(userID, audio)
	if err := a.store.Upload(ctx, a.bucket, path, f, audio.Size, audio.ContentType); err != nil {
		return "", fmt.Errorf("archive audio: %w", err)
	}
	return a.store.GetPublicURL(a.bucket, path), nil
}

// Discard removes an object written by Archive.
func (a *AudioArchive) Discard(ctx context.Context, userID string, audio *filestore.Handle) error {
	if err := a.store.Delete(ctx, a.bucket, objectPath(userID, audio)); err != nil {
		return fmt.Errorf("discard archived audio: %w", err)
	}
	return nil
}
