// Package engine implements the speaker identity resolution pipeline.
//
// A resolution run turns one meeting's artifacts — the transcript, the
// diarization result with per-speaker voice embeddings, the detected name
// mentions, and the authoritative participant list — into exactly one
// name-per-speaker mapping.
//
// # Architecture
//
//  1. Profile loading: the meeting owner's stored voice/style profiles are
//     fetched and filtered to the participant list.
//  2. Profile matching: every diarized speaker is compared against the
//     profiles on two channels (voice embedding and writing style); a
//     speaker auto-matches only when both channels clear their threshold
//     and agree on one profile.
//  3. Mention reasoning: every name mention not resolved by matching gets
//     one LLM judgment, strictly sequential so each verdict feeds the next
//     prompt; failures degrade to zero-confidence fallbacks.
//  4. Evidence merging: a deterministic constraint solver combines
//     auto-matches and judgments into the final mapping, assigning each
//     participant name at most once and flagging weak entries for review.
//
// The engine reads profiles through [profile.Store] and never writes; the
// confirmation step that follows a reviewed resolution owns all writes. A
// run is a pure function of the meeting artifacts and the profile snapshot,
// re-evaluated on demand.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/speakerid/internal/observe"
	"github.com/MrWong99/speakerid/internal/reason"
	"github.com/MrWong99/speakerid/pkg/identity"
	"github.com/MrWong99/speakerid/pkg/profile"
	"github.com/MrWong99/speakerid/pkg/provider/embeddings"
)

const (
	// defaultVoiceThreshold and defaultTextThreshold are the minimum cosine
	// similarities for the two matching channels. Both are inclusive.
	defaultVoiceThreshold = 0.85
	defaultTextThreshold  = 0.85

	// defaultMinUtterances is the minimum transcript evidence for the
	// elimination passes to assign a name to a speaker.
	defaultMinUtterances = 3

	// defaultJudgeTimeout bounds each individual reasoning call.
	defaultJudgeTimeout = 30 * time.Second

	// eliminationConfidence is the fixed confidence of every
	// elimination-assigned mapping.
	eliminationConfidence = 0.50

	// reviewThreshold is the confidence below which a non-auto-matched
	// mapping is flagged for human review.
	reviewThreshold = 0.7
)

// Judge is the mention-reasoning boundary. [reason.Reasoner] implements it;
// tests substitute scripted fakes.
type Judge interface {
	Judge(ctx context.Context, q reason.Query) (identity.Judgment, error)
}

// Engine resolves diarized speaker labels to participant names. Construct it
// with [New]; the zero value is not usable.
//
// Every collaborator is optional: without a profile store or embedder the
// matching stage yields nothing, and without a judge the reasoning stage is
// skipped — the merger still produces a complete mapping from whatever
// evidence exists. Engine is stateless across runs and safe for concurrent
// use.
type Engine struct {
	store    profile.Store
	embedder embeddings.Provider
	judge    Judge
	metrics  *observe.Metrics

	voiceThreshold float64
	textThreshold  float64
	minUtterances  int
	judgeTimeout   time.Duration
}

// Option is a functional option for configuring an Engine during construction.
type Option func(*Engine)

// WithProfileStore supplies the store whose profiles feed auto-matching.
// Without one, no speaker is ever auto-matched.
func WithProfileStore(s profile.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithEmbedder supplies the text-embedding provider for the writing-style
// channel. Without one, profile matching is disabled entirely: an
// auto-match needs both channels.
func WithEmbedder(p embeddings.Provider) Option {
	return func(e *Engine) { e.embedder = p }
}

// WithJudge supplies the mention reasoner. Without one, mentions are left
// unjudged and the merger works from auto-matches alone.
func WithJudge(j Judge) Option {
	return func(e *Engine) { e.judge = j }
}

// WithVoiceThreshold overrides the minimum voice-channel similarity for an
// auto-match. Default 0.85.
func WithVoiceThreshold(t float64) Option {
	return func(e *Engine) { e.voiceThreshold = t }
}

// WithTextThreshold overrides the minimum style-channel similarity for an
// auto-match. Default 0.85.
func WithTextThreshold(t float64) Option {
	return func(e *Engine) { e.textThreshold = t }
}

// WithMinUtterances overrides how many transcript segments a speaker needs
// before the elimination passes may assign it a name. Default 3.
func WithMinUtterances(n int) Option {
	return func(e *Engine) { e.minUtterances = n }
}

// WithJudgeTimeout overrides the per-call timeout of the reasoning stage.
// Default 30s.
func WithJudgeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.judgeTimeout = d }
}

// WithMetrics overrides the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine with the default thresholds, then applies opts.
func New(opts ...Option) *Engine {
	e := &Engine{
		voiceThreshold: defaultVoiceThreshold,
		textThreshold:  defaultTextThreshold,
		minUtterances:  defaultMinUtterances,
		judgeTimeout:   defaultJudgeTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Resolve runs the full pipeline for one meeting and returns the resolution.
//
// The returned error is non-nil only for contract violations
// ([*ContractError]) and context cancellation; every other failure mode
// degrades and the run completes with a mapping for every observed label.
// Cancellation discards the partial run — callers never see a partial
// mapping.
func (e *Engine) Resolve(ctx context.Context, meeting identity.Meeting) (*identity.Resolution, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "engine.resolve")
	defer span.End()
	span.SetAttributes(observe.Attr("meeting_id", meeting.ID))

	e.metrics.ActiveRuns.Add(ctx, 1)
	defer e.metrics.ActiveRuns.Add(ctx, -1)

	if err := ValidateMeeting(meeting); err != nil {
		e.metrics.RecordRun(ctx, "rejected", time.Since(start))
		return nil, err
	}

	labels := meeting.Diarization.Labels()
	groups := groupUtterances(meeting.Transcript)

	res := &identity.Resolution{}
	res.Stats.Speakers = len(labels)
	res.Stats.Mentions = len(meeting.Mentions)

	// ── Stage 1: profile loading ─────────────────────────────────────────

	stageStart := time.Now()
	profiles, err := e.loadProfiles(ctx, meeting)
	if err != nil {
		e.metrics.RecordRun(ctx, "error", time.Since(start))
		return nil, err
	}
	res.Stats.ProfilesLoaded = len(profiles)
	res.Stats.LoadDuration = time.Since(stageStart)
	e.metrics.RecordStage(ctx, "load", res.Stats.LoadDuration)

	// ── Stage 2: two-channel profile matching ────────────────────────────

	stageStart = time.Now()
	auto, err := e.matchProfiles(ctx, meeting.Diarization, labels, groups, profiles)
	if err != nil {
		e.metrics.RecordRun(ctx, "error", time.Since(start))
		return nil, err
	}
	res.Stats.AutoMatched = len(auto)
	res.Stats.MatchDuration = time.Since(stageStart)
	e.metrics.RecordStage(ctx, "match", res.Stats.MatchDuration)
	e.metrics.AutoMatches.Add(ctx, int64(len(auto)))

	// ── Stage 3: sequential mention reasoning ────────────────────────────

	stageStart = time.Now()
	judgments, err := e.judgeMentions(ctx, meeting, labels, auto, &res.Stats)
	if err != nil {
		e.metrics.RecordRun(ctx, "error", time.Since(start))
		return nil, err
	}
	res.Judgments = judgments
	res.Stats.ReasonDuration = time.Since(stageStart)
	e.metrics.RecordStage(ctx, "reason", res.Stats.ReasonDuration)

	// ── Stage 4: evidence merge ──────────────────────────────────────────

	stageStart = time.Now()
	counts := make(map[string]int, len(groups))
	for label, texts := range groups {
		counts[label] = len(texts)
	}
	res.Mappings = merge(mergeInput{
		AutoMatched:    auto,
		Judgments:      judgments,
		Labels:         labels,
		UtteranceCount: counts,
		Participants:   meeting.Participants,
		MinUtterances:  e.minUtterances,
	})
	for _, m := range res.Mappings {
		if m.NeedsReview {
			res.NeedsReview = append(res.NeedsReview, m.Speaker)
		}
	}
	res.Stats.MergeDuration = time.Since(stageStart)
	e.metrics.RecordStage(ctx, "merge", res.Stats.MergeDuration)

	res.Stats.TotalDuration = time.Since(start)
	e.metrics.RecordRun(ctx, "ok", res.Stats.TotalDuration)

	observe.Logger(ctx).Info("resolution complete",
		slog.String("meeting_id", meeting.ID),
		slog.Int("speakers", res.Stats.Speakers),
		slog.Int("profiles", res.Stats.ProfilesLoaded),
		slog.Int("auto_matched", res.Stats.AutoMatched),
		slog.Int("mentions", res.Stats.Mentions),
		slog.Int("mentions_skipped", res.Stats.MentionsSkipped),
		slog.Int("reasoner_failures", res.Stats.ReasonerFailures),
		slog.Int("needs_review", len(res.NeedsReview)),
		slog.Duration("duration", res.Stats.TotalDuration),
	)

	return res, nil
}

// loadProfiles fetches the meeting owner's profiles and keeps only those
// whose name is on the participant list — a profile of someone who is not in
// the meeting must never match. A store read failure degrades to an empty
// set (auto-matching is an enrichment, not a requirement) unless the context
// is already cancelled.
func (e *Engine) loadProfiles(ctx context.Context, meeting identity.Meeting) ([]profile.Profile, error) {
	if e.store == nil || meeting.UserID == "" {
		return nil, nil
	}

	all, err := e.store.ProfilesByUser(ctx, meeting.UserID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("engine: load profiles: %w", err)
		}
		observe.Logger(ctx).Warn("profile loading failed, continuing without auto-match",
			"user_id", meeting.UserID,
			"error", err,
		)
		return nil, nil
	}

	listed := make(map[string]struct{}, len(meeting.Participants))
	for _, name := range meeting.Participants {
		listed[name] = struct{}{}
	}
	var kept []profile.Profile
	for _, p := range all {
		if _, ok := listed[p.Name]; ok {
			kept = append(kept, p)
		}
	}
	return kept, nil
}
