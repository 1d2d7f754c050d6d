package engine

import (
	"math"
	"reflect"
	"slices"
	"testing"

	"github.com/MrWong99/speakerid/pkg/identity"
)

// j builds a usable judgment with the fields the merger reads.
func j(speaker, name string, conf float64) identity.Judgment {
	return identity.Judgment{Speaker: speaker, Name: name, Confidence: conf}
}

// mappingFor returns the mapping for label or fails the test.
func mappingFor(t *testing.T, mappings []identity.Mapping, label string) identity.Mapping {
	t.Helper()
	for _, m := range mappings {
		if m.Speaker == label {
			return m
		}
	}
	t.Fatalf("no mapping for %s in %+v", label, mappings)
	return identity.Mapping{}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// ─── Pass 1: auto-match seeding ─────────────────────────────────────────────

func TestMerge_AutoMatchSeedsFinalEntry(t *testing.T) {
	t.Parallel()

	out := merge(mergeInput{
		AutoMatched:   map[string]string{"SPEAKER_00": "Kim"},
		Labels:        []string{"SPEAKER_00"},
		Participants:  []string{"Kim"},
		MinUtterances: 3,
	})

	got := mappingFor(t, out, "SPEAKER_00")
	want := identity.Mapping{
		Speaker:     "SPEAKER_00",
		Name:        "Kim",
		Confidence:  1.0,
		Method:      identity.MethodEmbedding,
		AutoMatched: true,
		NeedsReview: false,
	}
	if got != want {
		t.Errorf("mapping = %+v, want %+v", got, want)
	}
}

func TestMerge_AutoMatchedNameNeverReused(t *testing.T) {
	t.Parallel()

	// SPEAKER_01's judgments claim Kim with overwhelming evidence, but Kim is
	// already auto-matched to SPEAKER_00 and must stay there.
	out := merge(mergeInput{
		AutoMatched: map[string]string{"SPEAKER_00": "Kim"},
		Judgments: []identity.Judgment{
			j("SPEAKER_01", "Kim", 0.99),
			j("SPEAKER_01", "Kim", 0.98),
			j("SPEAKER_01", "Kim", 0.97),
		},
		Labels:         []string{"SPEAKER_00", "SPEAKER_01"},
		UtteranceCount: map[string]int{"SPEAKER_00": 5, "SPEAKER_01": 5},
		Participants:   []string{"Kim"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Kim" || !got.AutoMatched || got.Confidence != 1.0 {
		t.Errorf("auto-match was disturbed: %+v", got)
	}
	if got := mappingFor(t, out, "SPEAKER_01"); got.Name != identity.Unknown {
		t.Errorf("SPEAKER_01 = %+v, want Unknown (Kim is taken)", got)
	}
}

// ─── Pass 2: name evidence ──────────────────────────────────────────────────

func TestMerge_JudgmentEvidenceAssignsName(t *testing.T) {
	t.Parallel()

	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Lee", 0.9),
			j("SPEAKER_00", "Lee", 0.8),
		},
		Labels:         []string{"SPEAKER_00"},
		UtteranceCount: map[string]int{"SPEAKER_00": 4},
		Participants:   []string{"Lee"},
		MinUtterances:  3,
	})

	got := mappingFor(t, out, "SPEAKER_00")
	if got.Name != "Lee" {
		t.Errorf("name = %q, want Lee", got.Name)
	}
	if got.Method != identity.MethodNameBased {
		t.Errorf("method = %q, want %q", got.Method, identity.MethodNameBased)
	}
	if !almostEqual(got.Confidence, 0.85) {
		t.Errorf("confidence = %v, want avg 0.85", got.Confidence)
	}
	if got.NeedsReview {
		t.Error("confidence 0.85 with name_based method should not need review")
	}
}

func TestMerge_BestNamePrefersCountOverConfidence(t *testing.T) {
	t.Parallel()

	// Two mentions of "Ann" at modest confidence beat one mention of "Bob"
	// at high confidence: occurrence count is the primary key.
	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Ann", 0.6),
			j("SPEAKER_00", "Ann", 0.6),
			j("SPEAKER_00", "Bob", 0.99),
		},
		Labels:         []string{"SPEAKER_00"},
		UtteranceCount: map[string]int{"SPEAKER_00": 5},
		Participants:   []string{"Ann", "Bob"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Ann" {
		t.Errorf("name = %q, want Ann (2 occurrences beat 1)", got.Name)
	}
}

func TestMerge_BestNameTieFallsToParticipantOrder(t *testing.T) {
	t.Parallel()

	// Identical (count, avg) for two names: the authoritative list decides.
	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Ann", 0.8),
			j("SPEAKER_00", "Bob", 0.8),
		},
		Labels:         []string{"SPEAKER_00"},
		UtteranceCount: map[string]int{"SPEAKER_00": 5},
		Participants:   []string{"Bob", "Ann"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Bob" {
		t.Errorf("name = %q, want Bob (listed first)", got.Name)
	}
}

func TestMerge_UnusableJudgmentsCarryNoEvidence(t *testing.T) {
	t.Parallel()

	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j(identity.Unknown, identity.Unknown, 0), // reasoner fallback
			j("SPEAKER_00", identity.Unknown, 0.9),   // verdict of uncertainty
			j(identity.Unknown, "Lee", 0.9),          // speaker never pinned
			j("", "", 0),
		},
		Labels:         []string{"SPEAKER_00"},
		UtteranceCount: map[string]int{"SPEAKER_00": 2},
		Participants:   []string{"Lee", "Kim"},
		MinUtterances:  3,
	})

	got := mappingFor(t, out, "SPEAKER_00")
	if got.Name != identity.Unknown || got.Method != identity.MethodNone {
		t.Errorf("mapping = %+v, want Unknown/none", got)
	}
}

// ─── Pass 3: duplicate resolution ───────────────────────────────────────────

func TestMerge_DuplicateClaimStrongerSpeakerWins(t *testing.T) {
	t.Parallel()

	// Both speakers claim Lee. SPEAKER_00: avg 0.8 over 3 judgments.
	// SPEAKER_01: avg 0.6 over 1. SPEAKER_00 keeps the name; SPEAKER_01 has
	// too little transcript for elimination and ends Unknown.
	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Lee", 0.8),
			j("SPEAKER_00", "Lee", 0.8),
			j("SPEAKER_00", "Lee", 0.8),
			j("SPEAKER_01", "Lee", 0.6),
		},
		Labels:         []string{"SPEAKER_00", "SPEAKER_01"},
		UtteranceCount: map[string]int{"SPEAKER_00": 6, "SPEAKER_01": 2},
		Participants:   []string{"Lee", "Ray"},
		MinUtterances:  3,
	})

	got := mappingFor(t, out, "SPEAKER_00")
	if got.Name != "Lee" || !almostEqual(got.Confidence, 0.8) {
		t.Errorf("SPEAKER_00 = %+v, want Lee at 0.8", got)
	}
	if got := mappingFor(t, out, "SPEAKER_01"); got.Name != identity.Unknown {
		t.Errorf("SPEAKER_01 = %+v, want Unknown", got)
	}
}

func TestMerge_DuplicateTieBreaks(t *testing.T) {
	t.Parallel()

	t.Run("evidence count decides equal confidence", func(t *testing.T) {
		t.Parallel()
		out := merge(mergeInput{
			Judgments: []identity.Judgment{
				j("SPEAKER_00", "Lee", 0.8),
				j("SPEAKER_01", "Lee", 0.8),
				j("SPEAKER_01", "Kim", 0.2), // extra judgment, more total evidence
			},
			Labels:         []string{"SPEAKER_00", "SPEAKER_01"},
			UtteranceCount: map[string]int{"SPEAKER_00": 1, "SPEAKER_01": 1},
			Participants:   []string{"Lee", "Kim"},
			MinUtterances:  3,
		})
		if got := mappingFor(t, out, "SPEAKER_01"); got.Name != "Lee" {
			t.Errorf("SPEAKER_01 = %+v, want Lee (more total judgments)", got)
		}
	})

	t.Run("full tie falls to smaller label", func(t *testing.T) {
		t.Parallel()
		out := merge(mergeInput{
			Judgments: []identity.Judgment{
				j("SPEAKER_00", "Lee", 0.8),
				j("SPEAKER_01", "Lee", 0.8),
			},
			Labels:         []string{"SPEAKER_00", "SPEAKER_01"},
			UtteranceCount: map[string]int{"SPEAKER_00": 1, "SPEAKER_01": 1},
			Participants:   []string{"Lee"},
			MinUtterances:  3,
		})
		if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Lee" {
			t.Errorf("SPEAKER_00 = %+v, want Lee (lexicographic tie-break)", got)
		}
		if got := mappingFor(t, out, "SPEAKER_01"); got.Name != identity.Unknown {
			t.Errorf("SPEAKER_01 = %+v, want Unknown", got)
		}
	})
}

// ─── Pass 4: paired elimination ─────────────────────────────────────────────

func TestMerge_PairedElimination(t *testing.T) {
	t.Parallel()

	// Three speakers, three names, zero mention evidence, all with enough
	// transcript: the pairing is forced, in label × list order.
	out := merge(mergeInput{
		Labels:         []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02"},
		UtteranceCount: map[string]int{"SPEAKER_00": 4, "SPEAKER_01": 7, "SPEAKER_02": 3},
		Participants:   []string{"Ann", "Bob", "Cem"},
		MinUtterances:  3,
	})

	wantNames := map[string]string{
		"SPEAKER_00": "Ann",
		"SPEAKER_01": "Bob",
		"SPEAKER_02": "Cem",
	}
	for label, wantName := range wantNames {
		got := mappingFor(t, out, label)
		if got.Name != wantName {
			t.Errorf("%s = %q, want %q", label, got.Name, wantName)
		}
		if got.Method != identity.MethodElimination || got.Confidence != 0.50 || !got.NeedsReview {
			t.Errorf("%s = %+v, want elimination at 0.50 with review", label, got)
		}
	}
}

func TestMerge_PairedEliminationSkipsThinSpeakers(t *testing.T) {
	t.Parallel()

	// SPEAKER_00 has too little transcript: it is passed over and consumes no
	// name, so SPEAKER_01 receives the first free name.
	out := merge(mergeInput{
		Labels:         []string{"SPEAKER_00", "SPEAKER_01"},
		UtteranceCount: map[string]int{"SPEAKER_00": 2, "SPEAKER_01": 3},
		Participants:   []string{"Ann", "Bob"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != identity.Unknown {
		t.Errorf("SPEAKER_00 = %+v, want Unknown (below threshold)", got)
	}
	if got := mappingFor(t, out, "SPEAKER_01"); got.Name != "Ann" {
		t.Errorf("SPEAKER_01 = %q, want Ann (first free name)", got.Name)
	}
}

// ─── Pass 5: second-chance scoring ──────────────────────────────────────────

func TestMerge_SecondChanceAfterLosingDuplicate(t *testing.T) {
	t.Parallel()

	// SPEAKER_01 loses Lee to SPEAKER_00 but has secondary evidence for Maya,
	// which is still free. A third name keeps the pairing non-forced so the
	// score pass, not paired elimination, must assign it.
	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Lee", 0.9),
			j("SPEAKER_00", "Lee", 0.9),
			j("SPEAKER_01", "Lee", 0.7),
			j("SPEAKER_01", "Lee", 0.7),
			j("SPEAKER_01", "Maya", 0.6),
		},
		Labels:         []string{"SPEAKER_00", "SPEAKER_01"},
		UtteranceCount: map[string]int{"SPEAKER_00": 5, "SPEAKER_01": 5},
		Participants:   []string{"Lee", "Maya", "Nora"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Lee" {
		t.Errorf("SPEAKER_00 = %+v, want Lee", got)
	}
	got := mappingFor(t, out, "SPEAKER_01")
	if got.Name != "Maya" {
		t.Errorf("SPEAKER_01 = %q, want Maya", got.Name)
	}
	if got.Method != identity.MethodScoreBased {
		t.Errorf("method = %q, want %q", got.Method, identity.MethodScoreBased)
	}
	if !almostEqual(got.Confidence, 0.6) {
		t.Errorf("confidence = %v, want 0.6 (avg of Maya judgments)", got.Confidence)
	}
}

func TestMerge_SecondChanceContendersRankedByScore(t *testing.T) {
	t.Parallel()

	// All three speakers first claim Ann; SPEAKER_00 wins it. The two losers
	// then contend for Bob in the score pass, where SPEAKER_02's single 0.9
	// judgment (score 0.95) outranks SPEAKER_01's single 0.6 one (score 0.8)
	// even though SPEAKER_01 sorts first by label. Utterance counts stay
	// below the elimination threshold so only the score pass can assign.
	out := merge(mergeInput{
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Ann", 0.9),
			j("SPEAKER_00", "Ann", 0.9),
			j("SPEAKER_00", "Ann", 0.9),
			j("SPEAKER_01", "Ann", 0.8),
			j("SPEAKER_01", "Ann", 0.8),
			j("SPEAKER_01", "Bob", 0.6),
			j("SPEAKER_02", "Ann", 0.7),
			j("SPEAKER_02", "Ann", 0.7),
			j("SPEAKER_02", "Bob", 0.9),
		},
		Labels:         []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02"},
		UtteranceCount: map[string]int{"SPEAKER_00": 2, "SPEAKER_01": 2, "SPEAKER_02": 2},
		Participants:   []string{"Ann", "Bob", "Cem"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Ann" {
		t.Errorf("SPEAKER_00 = %+v, want Ann", got)
	}
	got := mappingFor(t, out, "SPEAKER_02")
	if got.Name != "Bob" || got.Method != identity.MethodScoreBased {
		t.Errorf("SPEAKER_02 = %+v, want Bob via score_based", got)
	}
	if !almostEqual(got.Confidence, 0.9) {
		t.Errorf("SPEAKER_02 confidence = %v, want 0.9", got.Confidence)
	}
	if got := mappingFor(t, out, "SPEAKER_01"); got.Name != identity.Unknown {
		t.Errorf("SPEAKER_01 = %+v, want Unknown (Bob taken, too thin for elimination)", got)
	}
}

// ─── Pass 6: residual elimination ───────────────────────────────────────────

func TestMerge_ResidualEliminationByUtteranceCount(t *testing.T) {
	t.Parallel()

	// Three speakers, two names: the pairing is not forced, evidence is
	// absent, so leftovers go to the talkative speakers — most transcript
	// first — while the thin one stays Unknown.
	out := merge(mergeInput{
		Labels:         []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02"},
		UtteranceCount: map[string]int{"SPEAKER_00": 5, "SPEAKER_01": 9, "SPEAKER_02": 2},
		Participants:   []string{"Ann", "Bob"},
		MinUtterances:  3,
	})

	if got := mappingFor(t, out, "SPEAKER_01"); got.Name != "Ann" {
		t.Errorf("SPEAKER_01 = %q, want Ann (most utterances, first name)", got.Name)
	}
	if got := mappingFor(t, out, "SPEAKER_00"); got.Name != "Bob" {
		t.Errorf("SPEAKER_00 = %q, want Bob", got.Name)
	}
	if got := mappingFor(t, out, "SPEAKER_02"); got.Name != identity.Unknown {
		t.Errorf("SPEAKER_02 = %q, want Unknown", got.Name)
	}
}

// ─── Pass 7/8: fallback and review flags ────────────────────────────────────

func TestMerge_UnknownFallback(t *testing.T) {
	t.Parallel()

	out := merge(mergeInput{
		Labels:        []string{"SPEAKER_00"},
		Participants:  []string{"Ann"},
		MinUtterances: 3,
	})

	got := mappingFor(t, out, "SPEAKER_00")
	want := identity.Mapping{
		Speaker:     "SPEAKER_00",
		Name:        identity.Unknown,
		Confidence:  0,
		Method:      identity.MethodNone,
		NeedsReview: true,
	}
	if got != want {
		t.Errorf("mapping = %+v, want %+v", got, want)
	}
}

func TestMerge_ReviewFlagRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   mergeInput
		want bool
	}{
		{
			name: "name_based at exactly 0.7 passes",
			in: mergeInput{
				Judgments:      []identity.Judgment{j("SPEAKER_00", "Ann", 0.7)},
				Labels:         []string{"SPEAKER_00"},
				UtteranceCount: map[string]int{"SPEAKER_00": 5},
				Participants:   []string{"Ann"},
				MinUtterances:  3,
			},
			want: false,
		},
		{
			name: "name_based below 0.7 needs review",
			in: mergeInput{
				Judgments:      []identity.Judgment{j("SPEAKER_00", "Ann", 0.69)},
				Labels:         []string{"SPEAKER_00"},
				UtteranceCount: map[string]int{"SPEAKER_00": 5},
				Participants:   []string{"Ann"},
				MinUtterances:  3,
			},
			want: true,
		},
		{
			name: "elimination always needs review",
			in: mergeInput{
				Labels:         []string{"SPEAKER_00"},
				UtteranceCount: map[string]int{"SPEAKER_00": 5},
				Participants:   []string{"Ann"},
				MinUtterances:  3,
			},
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := merge(tc.in)
			if got := mappingFor(t, out, "SPEAKER_00"); got.NeedsReview != tc.want {
				t.Errorf("needs_review = %v, want %v (mapping %+v)", got.NeedsReview, tc.want, got)
			}
		})
	}
}

// ─── Global properties ──────────────────────────────────────────────────────

func TestMerge_CompleteSortedAndUnique(t *testing.T) {
	t.Parallel()

	in := mergeInput{
		AutoMatched: map[string]string{"SPEAKER_02": "Kim"},
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Lee", 0.9),
			j("SPEAKER_01", "Lee", 0.85),
			j("SPEAKER_03", "Ann", 0.4),
		},
		Labels: []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02", "SPEAKER_03", "SPEAKER_04"},
		UtteranceCount: map[string]int{
			"SPEAKER_00": 8, "SPEAKER_01": 6, "SPEAKER_02": 5, "SPEAKER_03": 4, "SPEAKER_04": 1,
		},
		Participants:  []string{"Kim", "Lee", "Ann", "Bob"},
		MinUtterances: 3,
	}
	out := merge(in)

	if len(out) != len(in.Labels) {
		t.Fatalf("got %d mappings, want %d", len(out), len(in.Labels))
	}
	labels := make([]string, len(out))
	for i, m := range out {
		labels[i] = m.Speaker
	}
	if !slices.IsSorted(labels) {
		t.Errorf("mappings not sorted by label: %v", labels)
	}

	seen := make(map[string]string)
	for _, m := range out {
		if m.Name == identity.Unknown {
			continue
		}
		if prev, dup := seen[m.Name]; dup {
			t.Errorf("name %q assigned to both %s and %s", m.Name, prev, m.Speaker)
		}
		seen[m.Name] = m.Speaker
	}
}

func TestMerge_Deterministic(t *testing.T) {
	t.Parallel()

	in := mergeInput{
		AutoMatched: map[string]string{"SPEAKER_01": "Kim"},
		Judgments: []identity.Judgment{
			j("SPEAKER_00", "Lee", 0.8),
			j("SPEAKER_02", "Lee", 0.8),
			j("SPEAKER_02", "Ann", 0.8),
			j("SPEAKER_03", "Ann", 0.8),
		},
		Labels: []string{"SPEAKER_00", "SPEAKER_01", "SPEAKER_02", "SPEAKER_03"},
		UtteranceCount: map[string]int{
			"SPEAKER_00": 4, "SPEAKER_01": 4, "SPEAKER_02": 4, "SPEAKER_03": 4,
		},
		Participants:  []string{"Kim", "Lee", "Ann", "Bob"},
		MinUtterances: 3,
	}

	first := merge(in)
	for range 10 {
		if again := merge(in); !reflect.DeepEqual(first, again) {
			t.Fatalf("merge is not deterministic:\nfirst = %+v\nagain = %+v", first, again)
		}
	}

	// Judgment order must not matter: evidence is aggregated by (speaker,
	// name) before any decision is taken.
	reversed := in
	reversed.Judgments = slices.Clone(in.Judgments)
	slices.Reverse(reversed.Judgments)
	if got := merge(reversed); !reflect.DeepEqual(first, got) {
		t.Errorf("merge depends on judgment order:\nforward = %+v\nreversed = %+v", first, got)
	}
}
