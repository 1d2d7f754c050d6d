// Package profile defines the persisted speaker-profile model and its store
// interface.
//
// A profile is the cross-meeting fingerprint of one confirmed participant: a
// voice embedding, a writing-style embedding, and a handful of sample
// utterances, all scoped to the owning user. The resolution engine reads
// profiles to auto-match diarized speakers; only the confirmation step that
// follows a resolution writes them.
//
// The interfaces are public so external packages can supply alternative
// backends (Postgres/pgvector, in-memory, …). Every implementation must be
// safe for concurrent use.
package profile

import (
	"context"
	"time"
)

// Profile is one persisted speaker fingerprint.
type Profile struct {
	// ID is the store-assigned identifier. Zero for profiles not yet saved.
	ID int64

	// UserID scopes the profile to its owning account.
	UserID string

	// Name is the confirmed participant name this fingerprint belongs to.
	Name string

	// VoiceEmbedding is the mean voice vector of the speaker's diarized turns
	// at confirmation time. May be empty when the upstream clusterer exported
	// no per-turn vectors.
	VoiceEmbedding []float32

	// TextEmbedding is the writing-style vector computed over SampleTexts.
	// May be empty when embedding failed at confirmation time.
	TextEmbedding []float32

	// SampleTexts holds up to a few representative utterances used to compute
	// TextEmbedding, kept for re-embedding and inspection.
	SampleTexts []string

	// ConfidenceScore counts how many times this (user, name) pair has been
	// confirmed. Starts at 1 and increments on every re-confirmation.
	ConfidenceScore int

	// SourceMeetingID records the meeting that last contributed to the profile.
	SourceMeetingID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VoiceMatch pairs a profile with its vector-space distance from a query
// embedding. Lower Distance means higher similarity.
type VoiceMatch struct {
	Profile  Profile
	Distance float64
}

// Store is the persistence boundary for speaker profiles.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// ProfilesByUser returns every profile owned by userID.
	// Returns an empty (non-nil) slice when the user has none.
	ProfilesByUser(ctx context.Context, userID string) ([]Profile, error)

	// FindByUserAndName retrieves the profile for a (user, name) pair.
	// Returns (nil, nil) when no such profile exists.
	FindByUserAndName(ctx context.Context, userID, name string) (*Profile, error)

	// Save upserts a profile keyed on (UserID, Name). An existing profile is
	// completely replaced apart from its ID and CreatedAt.
	Save(ctx context.Context, p Profile) error

	// IncrementConfidence bumps the confidence counter of an existing profile
	// and records the contributing meeting. Returns an error when the profile
	// does not exist.
	IncrementConfidence(ctx context.Context, userID, name, sourceMeetingID string) error

	// SearchByVoice returns the profiles of userID closest to the query voice
	// embedding, ordered by ascending cosine distance. Intended for ops
	// tooling and diagnostics; the matcher compares in-process.
	SearchByVoice(ctx context.Context, userID string, embedding []float32, limit int) ([]VoiceMatch, error)
}
