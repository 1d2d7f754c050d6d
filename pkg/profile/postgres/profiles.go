package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/speakerid/pkg/profile"
)

const profileColumns = `id, user_id, speaker_name, voice_embedding, text_embedding,
       sample_texts, confidence_score, source_meeting_id, created_at, updated_at`

// ProfilesByUser implements [profile.Store]. Profiles are returned in stable
// speaker-name order so downstream matching is reproducible run to run.
func (s *Store) ProfilesByUser(ctx context.Context, userID string) ([]profile.Profile, error) {
	q := fmt.Sprintf(`
		SELECT %s
		FROM   speaker_profiles
		WHERE  user_id = $1
		ORDER  BY speaker_name`, profileColumns)

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("profile store: list by user: %w", err)
	}

	profiles, err := pgx.CollectRows(rows, scanProfile)
	if err != nil {
		return nil, fmt.Errorf("profile store: scan rows: %w", err)
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	return profiles, nil
}

// FindByUserAndName implements [profile.Store]. Returns (nil, nil) when no
// profile exists for the pair.
func (s *Store) FindByUserAndName(ctx context.Context, userID, name string) (*profile.Profile, error) {
	q := fmt.Sprintf(`
		SELECT %s
		FROM   speaker_profiles
		WHERE  user_id = $1 AND speaker_name = $2`, profileColumns)

	rows, err := s.pool.Query(ctx, q, userID, name)
	if err != nil {
		return nil, fmt.Errorf("profile store: find: %w", err)
	}

	p, err := pgx.CollectOneRow(rows, scanProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile store: scan row: %w", err)
	}
	return &p, nil
}

// Save implements [profile.Store]. It upserts on (user_id, speaker_name); an
// existing row keeps its id and created_at but is otherwise replaced.
func (s *Store) Save(ctx context.Context, p profile.Profile) error {
	const q = `
		INSERT INTO speaker_profiles
		    (user_id, speaker_name, voice_embedding, text_embedding,
		     sample_texts, confidence_score, source_meeting_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, speaker_name) DO UPDATE SET
		    voice_embedding   = EXCLUDED.voice_embedding,
		    text_embedding    = EXCLUDED.text_embedding,
		    sample_texts      = EXCLUDED.sample_texts,
		    confidence_score  = EXCLUDED.confidence_score,
		    source_meeting_id = EXCLUDED.source_meeting_id,
		    updated_at        = now()`

	sampleTexts := p.SampleTexts
	if sampleTexts == nil {
		sampleTexts = []string{}
	}
	confidence := p.ConfidenceScore
	if confidence < 1 {
		confidence = 1
	}

	_, err := s.pool.Exec(ctx, q,
		p.UserID,
		p.Name,
		nullableVector(p.VoiceEmbedding),
		nullableVector(p.TextEmbedding),
		sampleTexts,
		confidence,
		p.SourceMeetingID,
	)
	if err != nil {
		return fmt.Errorf("profile store: save: %w", err)
	}
	return nil
}

// IncrementConfidence implements [profile.Store].
func (s *Store) IncrementConfidence(ctx context.Context, userID, name, sourceMeetingID string) error {
	const q = `
		UPDATE speaker_profiles
		SET    confidence_score  = confidence_score + 1,
		       source_meeting_id = $3,
		       updated_at        = now()
		WHERE  user_id = $1 AND speaker_name = $2`

	tag, err := s.pool.Exec(ctx, q, userID, name, sourceMeetingID)
	if err != nil {
		return fmt.Errorf("profile store: increment confidence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile store: increment confidence: no profile for user %q name %q", userID, name)
	}
	return nil
}

// SearchByVoice implements [profile.Store]. It ranks the user's profiles by
// cosine distance of their voice embedding to the query vector; rows with no
// voice embedding are excluded.
func (s *Store) SearchByVoice(ctx context.Context, userID string, embedding []float32, limit int) ([]profile.VoiceMatch, error) {
	q := fmt.Sprintf(`
		SELECT %s,
		       voice_embedding <=> $2 AS distance
		FROM   speaker_profiles
		WHERE  user_id = $1 AND voice_embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`, profileColumns)

	rows, err := s.pool.Query(ctx, q, userID, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("profile store: voice search: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (profile.VoiceMatch, error) {
		var (
			m     profile.VoiceMatch
			voice *pgvector.Vector
			text  *pgvector.Vector
		)
		if err := row.Scan(
			&m.Profile.ID,
			&m.Profile.UserID,
			&m.Profile.Name,
			&voice,
			&text,
			&m.Profile.SampleTexts,
			&m.Profile.ConfidenceScore,
			&m.Profile.SourceMeetingID,
			&m.Profile.CreatedAt,
			&m.Profile.UpdatedAt,
			&m.Distance,
		); err != nil {
			return profile.VoiceMatch{}, err
		}
		m.Profile.VoiceEmbedding = vectorSlice(voice)
		m.Profile.TextEmbedding = vectorSlice(text)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []profile.VoiceMatch{}
	}
	return matches, nil
}

// scanProfile scans one speaker_profiles row in profileColumns order.
func scanProfile(row pgx.CollectableRow) (profile.Profile, error) {
	var (
		p     profile.Profile
		voice *pgvector.Vector
		text  *pgvector.Vector
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.Name,
		&voice,
		&text,
		&p.SampleTexts,
		&p.ConfidenceScore,
		&p.SourceMeetingID,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return profile.Profile{}, err
	}
	p.VoiceEmbedding = vectorSlice(voice)
	p.TextEmbedding = vectorSlice(text)
	return p, nil
}

// nullableVector maps an absent embedding to SQL NULL rather than a zero-width
// vector, which pgvector would reject.
func nullableVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func vectorSlice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}
