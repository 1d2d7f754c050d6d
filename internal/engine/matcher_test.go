package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/speakerid/pkg/identity"
	"github.com/MrWong99/speakerid/pkg/profile"
	embeddingsmock "github.com/MrWong99/speakerid/pkg/provider/embeddings/mock"
)

// ─── cosine ─────────────────────────────────────────────────────────────────

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical vectors", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal vectors", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite vectors", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"both empty", nil, nil, 0},
		{"zero norm left", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero norm right", []float32{1, 1}, []float32{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := cosine(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// ─── bestMatch ──────────────────────────────────────────────────────────────

func voiceVec(p profile.Profile) []float32 { return p.VoiceEmbedding }

func TestBestMatch_PicksHighestAboveThreshold(t *testing.T) {
	t.Parallel()

	profiles := []profile.Profile{
		{Name: "Ann", VoiceEmbedding: []float32{1, 1, 0}},
		{Name: "Bob", VoiceEmbedding: []float32{1, 0, 0}},
	}

	name, score, ok := bestMatch([]float32{1, 0, 0}, profiles, voiceVec, 0.85)
	if !ok {
		t.Fatal("bestMatch reported no match, want Bob")
	}
	if name != "Bob" {
		t.Errorf("name = %q, want Bob", name)
	}
	if !almostEqual(score, 1) {
		t.Errorf("score = %v, want 1", score)
	}
}

func TestBestMatch_RejectsBelowThreshold(t *testing.T) {
	t.Parallel()

	// cos({1,0,0}, {1,1,0}) ≈ 0.707, well under the default threshold.
	profiles := []profile.Profile{{Name: "Ann", VoiceEmbedding: []float32{1, 1, 0}}}

	if name, _, ok := bestMatch([]float32{1, 0, 0}, profiles, voiceVec, 0.85); ok {
		t.Errorf("bestMatch = %q, want no match below threshold", name)
	}
}

func TestBestMatch_ThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	query := []float32{1, 0, 0}
	vec := []float32{1, 1, 0}
	profiles := []profile.Profile{{Name: "Ann", VoiceEmbedding: vec}}

	// A threshold exactly equal to the best score must still match.
	threshold := cosine(query, vec)
	if _, _, ok := bestMatch(query, profiles, voiceVec, threshold); !ok {
		t.Errorf("bestMatch rejected score == threshold %v, want match", threshold)
	}
}

func TestBestMatch_ExactTieIsAmbiguous(t *testing.T) {
	t.Parallel()

	// Two different names at the exact same top score: no safe winner.
	profiles := []profile.Profile{
		{Name: "Ann", VoiceEmbedding: []float32{1, 0, 0}},
		{Name: "Bob", VoiceEmbedding: []float32{1, 0, 0}},
	}

	if name, _, ok := bestMatch([]float32{1, 0, 0}, profiles, voiceVec, 0.85); ok {
		t.Errorf("bestMatch = %q, want no match on exact tie", name)
	}
}

func TestBestMatch_TieResetByStrictlyBetter(t *testing.T) {
	t.Parallel()

	// Ann and Bob tie at 0.707, then Cem clears them both outright. The
	// earlier tie must not poison the final winner.
	profiles := []profile.Profile{
		{Name: "Ann", VoiceEmbedding: []float32{1, 1, 0}},
		{Name: "Bob", VoiceEmbedding: []float32{1, 1, 0}},
		{Name: "Cem", VoiceEmbedding: []float32{1, 0, 0}},
	}

	name, _, ok := bestMatch([]float32{1, 0, 0}, profiles, voiceVec, 0.85)
	if !ok || name != "Cem" {
		t.Errorf("bestMatch = %q, %v; want Cem, true", name, ok)
	}
}

func TestBestMatch_SameNameTieNotAmbiguous(t *testing.T) {
	t.Parallel()

	profiles := []profile.Profile{
		{Name: "Ann", VoiceEmbedding: []float32{1, 0, 0}},
		{Name: "Ann", VoiceEmbedding: []float32{1, 0, 0}},
	}

	name, _, ok := bestMatch([]float32{1, 0, 0}, profiles, voiceVec, 0.85)
	if !ok || name != "Ann" {
		t.Errorf("bestMatch = %q, %v; want Ann, true", name, ok)
	}
}

func TestBestMatch_SkipsProfilesWithoutVector(t *testing.T) {
	t.Parallel()

	profiles := []profile.Profile{
		{Name: "Ann"}, // no voice embedding stored
		{Name: "Bob", VoiceEmbedding: []float32{1, 0, 0}},
	}

	name, _, ok := bestMatch([]float32{1, 0, 0}, profiles, voiceVec, 0.85)
	if !ok || name != "Bob" {
		t.Errorf("bestMatch = %q, %v; want Bob, true", name, ok)
	}

	if _, _, ok := bestMatch([]float32{1, 0, 0}, []profile.Profile{{Name: "Ann"}}, voiceVec, 0.85); ok {
		t.Error("bestMatch matched against a profile without a vector")
	}

	if _, _, ok := bestMatch(nil, profiles, voiceVec, 0.85); ok {
		t.Error("bestMatch matched an empty query vector")
	}
}

// ─── matchProfiles ──────────────────────────────────────────────────────────

func TestMatchProfiles_TwoChannelAgreement(t *testing.T) {
	t.Parallel()

	prov := &embeddingsmock.Provider{
		ResultsByText: map[string][]float32{
			"morning everyone let's start": {0, 1, 0},
			"thanks for joining":           {0, 0, 1},
		},
	}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
		{Name: "Lee", VoiceEmbedding: []float32{0, 1, 0}, TextEmbedding: []float32{0, 0, 1}},
	}
	diar := identity.Diarization{Embeddings: map[string][]float32{
		"SPEAKER_00": {1, 0, 0},
		"SPEAKER_01": {0, 1, 0},
	}}
	groups := map[string][]string{
		"SPEAKER_00": {"morning everyone", "let's start"},
		"SPEAKER_01": {"thanks for joining"},
	}

	auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00", "SPEAKER_01"}, groups, profiles)
	if err != nil {
		t.Fatalf("matchProfiles() error = %v", err)
	}
	want := map[string]string{"SPEAKER_00": "Kim", "SPEAKER_01": "Lee"}
	if len(auto) != len(want) {
		t.Fatalf("auto = %v, want %v", auto, want)
	}
	for label, name := range want {
		if auto[label] != name {
			t.Errorf("auto[%s] = %q, want %q", label, auto[label], name)
		}
	}
	if got := len(prov.EmbedCalls); got != 2 {
		t.Errorf("Embed called %d times, want 2", got)
	}
}

func TestMatchProfiles_JoinsUtterancesForStyleQuery(t *testing.T) {
	t.Parallel()

	prov := &embeddingsmock.Provider{EmbedResult: []float32{0, 1, 0}}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}
	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {1, 0, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"morning everyone", "let's start"}}

	if _, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, profiles); err != nil {
		t.Fatalf("matchProfiles() error = %v", err)
	}
	if len(prov.EmbedCalls) != 1 {
		t.Fatalf("Embed called %d times, want 1", len(prov.EmbedCalls))
	}
	if got, want := prov.EmbedCalls[0].Text, "morning everyone let's start"; got != want {
		t.Errorf("embedded text = %q, want %q", got, want)
	}
}

func TestMatchProfiles_ChannelDisagreementRejected(t *testing.T) {
	t.Parallel()

	// Voice points at Kim, writing style points at Lee: the channels must
	// agree on one profile, so the speaker stays unmatched.
	prov := &embeddingsmock.Provider{EmbedResult: []float32{1, 0, 0}}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
		{Name: "Lee", VoiceEmbedding: []float32{0, 1, 0}, TextEmbedding: []float32{1, 0, 0}},
	}
	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {1, 0, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"hello"}}

	auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, profiles)
	if err != nil {
		t.Fatalf("matchProfiles() error = %v", err)
	}
	if len(auto) != 0 {
		t.Errorf("auto = %v, want empty on channel disagreement", auto)
	}
}

func TestMatchProfiles_VoiceMissSkipsStyleEmbedding(t *testing.T) {
	t.Parallel()

	prov := &embeddingsmock.Provider{EmbedResult: []float32{0, 1, 0}}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}
	// Orthogonal voice vector: similarity 0, far under threshold.
	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {0, 1, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"hello"}}

	auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, profiles)
	if err != nil {
		t.Fatalf("matchProfiles() error = %v", err)
	}
	if len(auto) != 0 {
		t.Errorf("auto = %v, want empty", auto)
	}
	if len(prov.EmbedCalls) != 0 {
		t.Errorf("Embed called %d times after voice miss, want 0", len(prov.EmbedCalls))
	}
}

func TestMatchProfiles_BlankUtterancesSkipStyleEmbedding(t *testing.T) {
	t.Parallel()

	prov := &embeddingsmock.Provider{}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}
	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {1, 0, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"  ", ""}}

	auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, profiles)
	if err != nil {
		t.Fatalf("matchProfiles() error = %v", err)
	}
	if len(auto) != 0 {
		t.Errorf("auto = %v, want empty", auto)
	}
	if len(prov.EmbedCalls) != 0 {
		t.Errorf("Embed called %d times for blank utterances, want 0", len(prov.EmbedCalls))
	}
}

func TestMatchProfiles_EmbedFailureDegradesToNoMatch(t *testing.T) {
	t.Parallel()

	prov := &embeddingsmock.Provider{EmbedErr: errors.New("model offline")}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}
	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {1, 0, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"hello"}}

	auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, profiles)
	if err != nil {
		t.Fatalf("matchProfiles() error = %v, want degraded no-match", err)
	}
	if len(auto) != 0 {
		t.Errorf("auto = %v, want empty", auto)
	}
}

func TestMatchProfiles_CancelledContextAborts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prov := &embeddingsmock.Provider{EmbedErr: context.Canceled}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}
	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {1, 0, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"hello"}}

	_, err := e.matchProfiles(ctx, diar, []string{"SPEAKER_00"}, groups, profiles)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("matchProfiles() error = %v, want context.Canceled", err)
	}
}

func TestMatchProfiles_RequiresEmbeddingAndUtterances(t *testing.T) {
	t.Parallel()

	prov := &embeddingsmock.Provider{EmbedResult: []float32{0, 1, 0}}
	e := New(WithEmbedder(prov))

	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}
	// SPEAKER_00 has a voice vector but never spoke in the transcript;
	// SPEAKER_01 spoke but the clusterer exported no vector for it.
	diar := identity.Diarization{Embeddings: map[string][]float32{
		"SPEAKER_00": {1, 0, 0},
		"SPEAKER_02": {1, 0, 0},
	}}
	groups := map[string][]string{
		"SPEAKER_01": {"hi"},
		"SPEAKER_02": {"hello"},
	}
	labels := []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02"}

	auto, err := e.matchProfiles(context.Background(), diar, labels, groups, profiles)
	if err != nil {
		t.Fatalf("matchProfiles() error = %v", err)
	}
	if len(auto) != 1 || auto["SPEAKER_02"] != "Kim" {
		t.Errorf("auto = %v, want only SPEAKER_02 → Kim", auto)
	}
	if len(prov.EmbedCalls) != 1 {
		t.Errorf("Embed called %d times, want 1", len(prov.EmbedCalls))
	}
}

func TestMatchProfiles_DisabledWithoutProfilesOrEmbedder(t *testing.T) {
	t.Parallel()

	diar := identity.Diarization{Embeddings: map[string][]float32{"SPEAKER_00": {1, 0, 0}}}
	groups := map[string][]string{"SPEAKER_00": {"hello"}}
	profiles := []profile.Profile{
		{Name: "Kim", VoiceEmbedding: []float32{1, 0, 0}, TextEmbedding: []float32{0, 1, 0}},
	}

	t.Run("no profiles", func(t *testing.T) {
		t.Parallel()
		prov := &embeddingsmock.Provider{}
		e := New(WithEmbedder(prov))
		auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, nil)
		if err != nil || len(auto) != 0 {
			t.Errorf("matchProfiles() = %v, %v; want empty, nil", auto, err)
		}
		if len(prov.EmbedCalls) != 0 {
			t.Errorf("Embed called %d times, want 0", len(prov.EmbedCalls))
		}
	})

	t.Run("nil embedder", func(t *testing.T) {
		t.Parallel()
		e := New()
		auto, err := e.matchProfiles(context.Background(), diar, []string{"SPEAKER_00"}, groups, profiles)
		if err != nil || len(auto) != 0 {
			t.Errorf("matchProfiles() = %v, %v; want empty, nil", auto, err)
		}
	})
}
