// Package identity defines the shared types used across all speakerid packages.
//
// These types form the lingua franca between the resolution engine, the profile
// store, the providers, and the confirmation step. They mirror the wire shapes of
// the upstream collaborators (diarization, transcription, mention extraction), so
// meeting artifacts unmarshal directly into them.
package identity

import (
	"slices"
	"time"
)

// Unknown is the reserved sentinel for an unresolved speaker or name. It is never
// a valid participant name and may map to any number of speakers in a result.
const Unknown = "Unknown"

// TranscriptSegment is one transcribed utterance, already attributed to a
// diarization cluster by the upstream pipeline.
type TranscriptSegment struct {
	// Text is the transcribed content of the segment.
	Text string `json:"text"`

	// Start and End are offsets in seconds from the beginning of the recording.
	Start float64 `json:"start"`
	End   float64 `json:"end"`

	// Speaker is the diarization label of the segment (e.g. "SPEAKER_00").
	Speaker string `json:"speaker"`

	// HasName is set by upstream mention extraction when the segment contains a
	// participant name. Informational only; mentions arrive as separate events.
	HasName bool `json:"has_name,omitempty"`
}

// DiarizationTurn is a contiguous time span attributed to one speaker label.
type DiarizationTurn struct {
	Speaker string  `json:"speaker_label"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`

	// Embedding is the voice fingerprint of this turn, when the upstream
	// clusterer exports per-turn vectors. Used by the confirmation step to
	// build profiles; the resolution engine only reads per-label embeddings.
	Embedding []float32 `json:"embedding,omitempty"`
}

// Diarization is the complete voice-clustering result for one meeting.
type Diarization struct {
	// Turns lists every diarized span in chronological order.
	Turns []DiarizationTurn `json:"turns"`

	// Embeddings holds one representative voice vector per speaker label.
	Embeddings map[string][]float32 `json:"embeddings"`
}

// Labels returns every speaker label observed in the diarization output, i.e.
// the union of turn labels and embedding keys, sorted lexicographically.
func (d Diarization) Labels() []string {
	seen := make(map[string]struct{}, len(d.Embeddings))
	var labels []string
	for _, turn := range d.Turns {
		if _, ok := seen[turn.Speaker]; !ok {
			seen[turn.Speaker] = struct{}{}
			labels = append(labels, turn.Speaker)
		}
	}
	for label := range d.Embeddings {
		if _, ok := seen[label]; !ok {
			seen[label] = struct{}{}
			labels = append(labels, label)
		}
	}
	slices.Sort(labels)
	return labels
}

// NameMention is an upstream-extracted occurrence of a participant name in the
// transcript. The mentioned name may refer to a different speaker than the one
// who said the sentence (e.g. a third party addressed by name).
type NameMention struct {
	// Name is the mentioned participant name.
	Name string `json:"name"`

	// MentionedBy is the label of the speaker who said the sentence.
	MentionedBy string `json:"mentioned_by"`

	// Time is the detection offset in seconds.
	Time float64 `json:"time"`

	// TargetText is the exact sentence containing the mention and TargetSpeaker
	// its speaker label. TargetSpeaker defaults to MentionedBy upstream.
	TargetText    string `json:"target_text"`
	TargetSpeaker string `json:"target_speaker"`

	// ContextBefore and ContextAfter are bounded windows of surrounding segments.
	ContextBefore []TranscriptSegment `json:"context_before"`
	ContextAfter  []TranscriptSegment `json:"context_after"`
}

// Judgment is one structured verdict from the name-mention reasoner: which
// speaker label the mentioned name actually refers to.
type Judgment struct {
	// Speaker is the judged label, or Unknown when the reasoner could not decide
	// (or the call failed).
	Speaker string `json:"speaker"`

	// Name is the judged participant name, always from the authoritative set or
	// Unknown.
	Name string `json:"name"`

	// Confidence is the reasoner's self-reported certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	// Reasoning is the reasoner's free-text rationale. Fed back into later
	// invocations as recent context; never shown to end users.
	Reasoning string `json:"reasoning"`

	// Turn is the 1-based position of the mention event in the run. Failed
	// events still consume a turn number.
	Turn int `json:"turn"`

	// Time is the mention's detection offset in seconds.
	Time float64 `json:"time"`

	// MentionedName is the name the triggering event carried, which the judged
	// Name may legitimately differ from.
	MentionedName string `json:"name_mentioned"`
}

// Usable reports whether the judgment can serve as merge evidence. Fallback
// judgments recorded for failed reasoner calls are kept in the history but
// never count as evidence.
func (j Judgment) Usable() bool {
	return j.Speaker != "" && j.Speaker != Unknown && j.Name != "" && j.Name != Unknown
}

// Method identifies which evidence path produced a mapping.
type Method string

const (
	// MethodEmbedding marks an auto-match from the two-channel profile matcher.
	MethodEmbedding Method = "embedding"

	// MethodNameBased marks a mapping aggregated from name-mention judgments.
	MethodNameBased Method = "name_based"

	// MethodScoreBased marks a second-chance assignment of an unused name backed
	// by at least one judgment.
	MethodScoreBased Method = "score_based"

	// MethodElimination marks a deterministic pairing of leftover speakers with
	// leftover names. Always requires review.
	MethodElimination Method = "elimination"

	// MethodNone marks a speaker with no usable evidence at all.
	MethodNone Method = "none"
)

// IsValid reports whether m is one of the defined methods.
func (m Method) IsValid() bool {
	switch m {
	case MethodEmbedding, MethodNameBased, MethodScoreBased, MethodElimination, MethodNone:
		return true
	}
	return false
}

// Mapping is one entry of the final speaker→name resolution.
type Mapping struct {
	// Speaker is the diarization label this entry resolves.
	Speaker string `json:"speaker_label"`

	// Name is the assigned participant name, or Unknown.
	Name string `json:"name"`

	// Confidence is the resolution certainty in [0, 1]. Auto-matches are 1.0.
	Confidence float64 `json:"confidence"`

	// Method is the evidence path that produced the assignment.
	Method Method `json:"match_method"`

	// AutoMatched is true when the profile matcher resolved the speaker before
	// any mention evidence was consulted.
	AutoMatched bool `json:"auto_matched"`

	// NeedsReview flags the entry for human confirmation: confidence below 0.7,
	// or an elimination/none method.
	NeedsReview bool `json:"needs_review"`
}

// Meeting bundles the upstream artifacts the engine resolves.
type Meeting struct {
	// ID identifies the meeting for run exclusion and profile provenance.
	ID string `json:"meeting_id"`

	// UserID scopes the profile lookup. Empty disables profile matching.
	UserID string `json:"user_id"`

	// Transcript is the ordered speech-to-text output.
	Transcript []TranscriptSegment `json:"stt_result"`

	// Diarization is the voice-clustering result.
	Diarization Diarization `json:"diar_result"`

	// Mentions are the upstream-extracted name-mention events, in chronological
	// order.
	Mentions []NameMention `json:"name_mentions"`

	// Participants is the authoritative, human-confirmed, ordered name list. The
	// engine never assigns a name outside it.
	Participants []string `json:"participant_names"`
}

// Resolution is the engine's output for one meeting.
type Resolution struct {
	// Mappings holds exactly one entry per observed speaker label, sorted by
	// label.
	Mappings []Mapping `json:"mappings"`

	// NeedsReview lists the labels flagged for human review, sorted.
	NeedsReview []string `json:"needs_review"`

	// Judgments is the full reasoner history of the run, in turn order,
	// including zero-confidence fallbacks for failed calls.
	Judgments []Judgment `json:"judgments,omitempty"`

	// Stats summarizes the run for logging and analytics.
	Stats RunStats `json:"stats"`
}

// Mapped returns the resolved name for a label and whether the label is part of
// the resolution.
func (r Resolution) Mapped(label string) (Mapping, bool) {
	for _, m := range r.Mappings {
		if m.Speaker == label {
			return m, true
		}
	}
	return Mapping{}, false
}

// RunStats captures per-run counters surfaced to callers and metrics.
type RunStats struct {
	ProfilesLoaded   int `json:"profiles_loaded"`
	AutoMatched      int `json:"auto_matched"`
	Mentions         int `json:"mentions"`
	MentionsSkipped  int `json:"mentions_skipped"`
	ReasonerFailures int `json:"reasoner_failures"`
	Speakers         int `json:"speakers"`

	// Wall-clock stage durations, for logging and downstream analytics.
	LoadDuration   time.Duration `json:"load_duration"`
	MatchDuration  time.Duration `json:"match_duration"`
	ReasonDuration time.Duration `json:"reason_duration"`
	MergeDuration  time.Duration `json:"merge_duration"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// ConfirmedName is one user-confirmed (or corrected) assignment fed back into
// the profile confirmation step.
type ConfirmedName struct {
	Speaker string `json:"speaker_label"`
	Name    string `json:"final_name"`
}
