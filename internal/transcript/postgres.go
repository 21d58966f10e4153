package transcript

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nikhilbhutani/audioscribe/internal/models"
)

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Save(ctx context.Context, rec *models.TranscriptionRecord) error {
	rec.Normalize()

	sentiment, err := json.Marshal(rec.Sentiment)
	if err != nil {
		return fmt.Errorf("%w: encode sentiment: %w", ErrPersistence, err)
	}
	chapters, err := json.Marshal(rec.Chapters)
	if err != nil {
		return fmt.Errorf("%w: encode chapters: %w", ErrPersistence, err)
	}
	entities, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("%w: encode entities: %w", ErrPersistence, err)
	}
	topics, err := json.Marshal(rec.Topics)
	if err != nil {
		return fmt.Errorf("%w: encode topics: %w", ErrPersistence, err)
	}
	safety, err := json.Marshal(rec.SafetyLabels)
	if err != nil {
		return fmt.Errorf("%w: encode safety labels: %w", ErrPersistence, err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO transcriptions (id, user_id, audio_ref, transcription_text, created_at, sentiment, chapters, entities, topics, safety_labels)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, rec.AudioRef, rec.TranscriptionText, rec.CreatedAt,
		sentiment, chapters, entities, topics, safety,
	)
	if err != nil {
		return fmt.Errorf("%w: insert transcription: %w", ErrPersistence, err)
	}
	return nil
}

func (r *PostgresRepository) FindByUser(ctx context.Context, userID string) ([]models.TranscriptionRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, audio_ref, transcription_text, created_at, sentiment, chapters, entities, topics, safety_labels
		 FROM transcriptions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list transcriptions: %w", ErrPersistence, err)
	}
	defer rows.Close()

	records := []models.TranscriptionRecord{}
	for rows.Next() {
		var (
			rec                                         models.TranscriptionRecord
			sentiment, chapters, entities, topics, safe []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.AudioRef, &rec.TranscriptionText, &rec.CreatedAt,
			&sentiment, &chapters, &entities, &topics, &safe); err != nil {
			return nil, fmt.Errorf("%w: scan transcription: %w", ErrPersistence, err)
		}
		if err := decodeAnalysis(&rec.Analysis, sentiment, chapters, entities, topics, safe); err != nil {
			return nil, fmt.Errorf("%w: decode transcription %s: %w", ErrPersistence, rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transcriptions: %w", ErrPersistence, err)
	}
	return records, nil
}

func decodeAnalysis(an *models.Analysis, sentiment, chapters, entities, topics, safety []byte) error {
	fields := []struct {
		raw  []byte
		dest any
	}{
		{sentiment, &an.Sentiment},
		{chapters, &an.Chapters},
		{entities, &an.Entities},
		{topics, &an.Topics},
		{safety, &an.SafetyLabels},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dest); err != nil {
			return err
		}
	}
	an.Normalize()
	return nil
}
