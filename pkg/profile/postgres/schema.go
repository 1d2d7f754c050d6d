package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlProfiles returns the speaker_profiles DDL with the vector dimensions
// substituted. The dimensions are baked into the column types at schema
// creation time.
func ddlProfiles(dims Dimensions) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS speaker_profiles (
    id                 BIGSERIAL    PRIMARY KEY,
    user_id            TEXT         NOT NULL,
    speaker_name       TEXT         NOT NULL,
    voice_embedding    vector(%d),
    text_embedding     vector(%d),
    sample_texts       JSONB        NOT NULL DEFAULT '[]',
    confidence_score   INTEGER      NOT NULL DEFAULT 1,
    source_meeting_id  TEXT         NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (user_id, speaker_name)
);

CREATE INDEX IF NOT EXISTS idx_speaker_profiles_user_id
    ON speaker_profiles (user_id);

CREATE INDEX IF NOT EXISTS idx_speaker_profiles_voice
    ON speaker_profiles USING hnsw (voice_embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_speaker_profiles_text
    ON speaker_profiles USING hnsw (text_embedding vector_cosine_ops);
`, dims.Voice, dims.Text)
}

// Migrate creates or ensures the speaker_profiles table and its indexes exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
//
// dims must match the voice-embedding dimension of the upstream diarization
// model and the output dimension of the configured text-embedding model
// (e.g. 1536 for OpenAI text-embedding-3-small).
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims Dimensions) error {
	if _, err := pool.Exec(ctx, ddlProfiles(dims)); err != nil {
		return fmt.Errorf("profile migrate: %w", err)
	}
	return nil
}
