// Package confirm persists user-confirmed speaker identities as profiles.
//
// Confirmation is the only write path to the profile store: the engine reads
// profiles, a human reviews its resolution, and the confirmed (or corrected)
// final names land here. A name already on file gets its confidence counter
// reinforced; a name seen for the first time becomes a new profile built
// from the meeting's own artifacts — the mean of the speaker's diarized
// voice vectors plus a writing-style embedding over a few sample utterances.
//
// Unlike the read path, store and embedding failures here are reported, not
// degraded: the user explicitly asked for the write, so a silent no-op would
// lose their confirmation. The one exception is the style embedding — a
// profile without a text vector still carries its voice vector and sample
// texts, so the batch embedding failing downgrades the profiles rather than
// discarding them.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/speakerid/internal/observe"
	"github.com/MrWong99/speakerid/pkg/identity"
	"github.com/MrWong99/speakerid/pkg/profile"
	"github.com/MrWong99/speakerid/pkg/provider/embeddings"
)

// defaultMaxSampleTexts caps how many sample utterances a new profile keeps.
const defaultMaxSampleTexts = 5

// Confirmer applies confirmed speaker→name assignments to the profile store.
// Construct it with [New].
type Confirmer struct {
	store      profile.Store
	embedder   embeddings.Provider
	metrics    *observe.Metrics
	maxSamples int
}

// Option is a functional option for configuring a Confirmer.
type Option func(*Confirmer)

// WithEmbedder supplies the provider used to compute writing-style vectors
// for new profiles. Without one, new profiles are saved without a text
// embedding.
func WithEmbedder(p embeddings.Provider) Option {
	return func(c *Confirmer) { c.embedder = p }
}

// WithMaxSampleTexts overrides how many sample utterances a new profile
// keeps. Default 5.
func WithMaxSampleTexts(n int) Option {
	return func(c *Confirmer) { c.maxSamples = n }
}

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Confirmer) { c.metrics = m }
}

// New constructs a Confirmer writing through store.
func New(store profile.Store, opts ...Option) *Confirmer {
	c := &Confirmer{
		store:      store,
		maxSamples: defaultMaxSampleTexts,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Result summarizes one confirmation pass.
type Result struct {
	// Created lists the names saved as brand-new profiles, in input order.
	Created []string

	// Reconfirmed lists the names whose existing profile was reinforced.
	Reconfirmed []string

	// Skipped counts ignored entries: blank names, the reserved "Unknown",
	// and repeated confirmations of a name within the same pass.
	Skipped int
}

// pendingProfile is a new profile awaiting its batch style embedding.
type pendingProfile struct {
	profile profile.Profile
	joined  string
}

// Apply records the confirmed assignments of one meeting.
//
// Per entry: blank and "Unknown" names are skipped; an existing (user, name)
// profile is reinforced via [profile.Store.IncrementConfidence]; anything
// else becomes a new profile. New profiles get their style vectors in a
// single batch embedding request at the end, so a meeting with several new
// faces costs one provider round-trip.
func (c *Confirmer) Apply(ctx context.Context, meeting identity.Meeting, confirmed []identity.ConfirmedName) (*Result, error) {
	if c.store == nil {
		return nil, fmt.Errorf("confirm: no profile store configured")
	}
	if meeting.UserID == "" {
		return nil, fmt.Errorf("confirm: meeting %q has no user id", meeting.ID)
	}

	res := &Result{}
	var pending []pendingProfile
	seen := make(map[string]struct{}, len(confirmed))

	for _, entry := range confirmed {
		name := strings.TrimSpace(entry.Name)
		if name == "" || name == identity.Unknown {
			res.Skipped++
			continue
		}
		if _, dup := seen[name]; dup {
			observe.Logger(ctx).Warn("name confirmed for more than one speaker, keeping the first",
				"name", name,
				"speaker", entry.Speaker,
			)
			res.Skipped++
			continue
		}
		seen[name] = struct{}{}

		existing, err := c.store.FindByUserAndName(ctx, meeting.UserID, name)
		if err != nil {
			return nil, fmt.Errorf("confirm: find profile %q: %w", name, err)
		}
		if existing != nil {
			if err := c.store.IncrementConfidence(ctx, meeting.UserID, name, meeting.ID); err != nil {
				return nil, fmt.Errorf("confirm: reinforce profile %q: %w", name, err)
			}
			c.metrics.RecordProfileSaved(ctx, "reconfirmed")
			res.Reconfirmed = append(res.Reconfirmed, name)
			continue
		}

		samples := sampleTexts(meeting, entry.Speaker, c.maxSamples)
		pending = append(pending, pendingProfile{
			profile: profile.Profile{
				UserID:          meeting.UserID,
				Name:            name,
				VoiceEmbedding:  meanTurnEmbedding(meeting.Diarization.Turns, entry.Speaker),
				SampleTexts:     samples,
				ConfidenceScore: 1,
				SourceMeetingID: meeting.ID,
			},
			joined: strings.Join(samples, " "),
		})
	}

	if err := c.embedPending(ctx, pending); err != nil {
		return nil, err
	}

	for _, p := range pending {
		if err := c.store.Save(ctx, p.profile); err != nil {
			return nil, fmt.Errorf("confirm: save profile %q: %w", p.profile.Name, err)
		}
		c.metrics.RecordProfileSaved(ctx, "created")
		res.Created = append(res.Created, p.profile.Name)
	}

	observe.Logger(ctx).Info("confirmation applied",
		slog.String("meeting_id", meeting.ID),
		slog.Int("created", len(res.Created)),
		slog.Int("reconfirmed", len(res.Reconfirmed)),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

// embedPending fills the text embeddings of all pending profiles with sample
// texts in one batch request. A failed batch leaves every text embedding
// empty — the profiles are still worth saving — unless the context is
// already cancelled.
func (c *Confirmer) embedPending(ctx context.Context, pending []pendingProfile) error {
	if c.embedder == nil {
		return nil
	}

	var texts []string
	var idx []int
	for i, p := range pending {
		if p.joined != "" {
			texts = append(texts, p.joined)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("confirm: embed sample texts: %w", err)
		}
		observe.Logger(ctx).Warn("style embedding failed, saving profiles without text vectors",
			"profiles", len(texts),
			"error", err,
		)
		return nil
	}
	for j, i := range idx {
		pending[i].profile.TextEmbedding = vecs[j]
	}
	return nil
}

// meanTurnEmbedding averages the voice vectors of label's diarized turns,
// element-wise in float64. Turns without a vector (or with a vector of a
// different length than the first) are ignored; no usable turn yields nil.
func meanTurnEmbedding(turns []identity.DiarizationTurn, label string) []float32 {
	var sum []float64
	n := 0
	for _, turn := range turns {
		if turn.Speaker != label || len(turn.Embedding) == 0 {
			continue
		}
		if sum == nil {
			sum = make([]float64, len(turn.Embedding))
		}
		if len(turn.Embedding) != len(sum) {
			continue
		}
		for i, v := range turn.Embedding {
			sum[i] += float64(v)
		}
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]float32, len(sum))
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}

// sampleTexts collects up to max sample utterances for label: one per
// diarized turn, each the joined transcript texts whose start falls inside
// that turn. Turns without any transcript text are passed over and do not
// count toward the cap.
func sampleTexts(meeting identity.Meeting, label string, max int) []string {
	var samples []string
	for _, turn := range meeting.Diarization.Turns {
		if turn.Speaker != label {
			continue
		}
		var parts []string
		for _, seg := range meeting.Transcript {
			if seg.Start < turn.Start || seg.Start >= turn.End {
				continue
			}
			if t := strings.TrimSpace(seg.Text); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) == 0 {
			continue
		}
		samples = append(samples, strings.Join(parts, " "))
		if len(samples) == max {
			break
		}
	}
	return samples
}
