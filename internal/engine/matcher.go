package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakerid/internal/observe"
	"github.com/MrWong99/speakerid/pkg/identity"
	"github.com/MrWong99/speakerid/pkg/profile"
)

// matchConcurrency bounds the number of speakers matched in parallel. Each
// speaker costs one embedding request, so this also caps provider fan-out.
const matchConcurrency = 4

// autoMatch is one speaker resolved by two-channel profile matching.
type autoMatch struct {
	label string
	name  string
	voice float64 // voice-channel cosine similarity
	text  float64 // style-channel cosine similarity
}

// matchProfiles compares every matchable speaker against the stored profiles
// on both channels and returns the auto-matched label → name assignments.
//
// A speaker is matchable when the diarization exported a voice embedding for
// it and it has at least one transcript utterance. Speakers are processed in
// parallel; profiles are read-only during the scan. The only error returned
// is context cancellation — per-speaker failures degrade to "no match".
func (e *Engine) matchProfiles(ctx context.Context, diar identity.Diarization, labels []string, groups map[string][]string, profiles []profile.Profile) (map[string]string, error) {
	auto := make(map[string]string)
	if len(profiles) == 0 || e.embedder == nil {
		return auto, nil
	}

	var candidates []string
	for _, label := range labels {
		if len(diar.Embeddings[label]) > 0 && len(groups[label]) > 0 {
			candidates = append(candidates, label)
		}
	}

	results := make([]*autoMatch, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(matchConcurrency)
	for i, label := range candidates {
		g.Go(func() error {
			m, err := e.matchSpeaker(gctx, label, diar.Embeddings[label], groups[label], profiles)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: profile matching: %w", err)
	}

	for _, m := range results {
		if m == nil {
			continue
		}
		auto[m.label] = m.name
		observe.Logger(ctx).Info("speaker auto-matched",
			"speaker", m.label,
			"name", m.name,
			"voice_similarity", m.voice,
			"text_similarity", m.text,
		)
	}
	return auto, nil
}

// matchSpeaker runs the two-channel comparison for a single speaker. Both
// channels must independently clear their thresholds and agree on one
// profile; otherwise the speaker stays unmatched (nil result).
//
// The voice channel is evaluated first: it needs no provider round-trip, so
// a miss there skips the style-embedding request entirely. A failed embedding
// request degrades to "no match" unless the context is already cancelled.
func (e *Engine) matchSpeaker(ctx context.Context, label string, voice []float32, texts []string, profiles []profile.Profile) (*autoMatch, error) {
	voiceName, voiceScore, ok := bestMatch(voice, profiles, func(p profile.Profile) []float32 { return p.VoiceEmbedding }, e.voiceThreshold)
	if !ok {
		return nil, nil
	}

	joined := strings.TrimSpace(strings.Join(texts, " "))
	if joined == "" {
		return nil, nil
	}
	query, err := e.embedder.Embed(ctx, joined)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		observe.Logger(ctx).Warn("style embedding failed, speaker stays unmatched",
			"speaker", label,
			"error", err,
		)
		return nil, nil
	}

	textName, textScore, ok := bestMatch(query, profiles, func(p profile.Profile) []float32 { return p.TextEmbedding }, e.textThreshold)
	if !ok || textName != voiceName {
		return nil, nil
	}

	return &autoMatch{label: label, name: voiceName, voice: voiceScore, text: textScore}, nil
}

// bestMatch scans profiles for the highest cosine similarity between query
// and the vector selected by vec. It reports no match when the best score is
// below threshold, when no profile has a usable vector, or when two profiles
// with different names tie exactly at the top (ambiguous).
func bestMatch(query []float32, profiles []profile.Profile, vec func(profile.Profile) []float32, threshold float64) (name string, score float64, ok bool) {
	var tied bool
	for _, p := range profiles {
		v := vec(p)
		if len(v) == 0 {
			continue
		}
		s := cosine(query, v)
		switch {
		case s > score:
			name, score, tied = p.Name, s, false
		case s == score && name != "" && p.Name != name:
			tied = true
		}
	}
	if name == "" || score < threshold || tied {
		return "", 0, false
	}
	return name, score, true
}

// cosine returns the cosine similarity of two vectors, accumulating in
// float64. Mismatched lengths and zero-norm vectors yield 0 rather than an
// error: degenerate embeddings are expected upstream data, not failures.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
