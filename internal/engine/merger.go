package engine

import (
	"cmp"
	"slices"
	"strings"

	"github.com/MrWong99/speakerid/pkg/identity"
)

// mergeInput carries all evidence the merger consumes. Fields are read-only;
// merge never mutates its input.
type mergeInput struct {
	// AutoMatched holds the label → name assignments from profile matching.
	AutoMatched map[string]string

	// Judgments is the complete reasoner history, fallbacks included. Only
	// judgments that are [identity.Judgment.Usable] count as evidence.
	Judgments []identity.Judgment

	// Labels is every observed speaker label in lexicographic order. The
	// output contains exactly one mapping per entry.
	Labels []string

	// UtteranceCount is the number of transcript segments per label.
	UtteranceCount map[string]int

	// Participants is the authoritative name list in its original order,
	// which doubles as the tie-break order for names.
	Participants []string

	// MinUtterances is the minimum transcript evidence for the elimination
	// passes to assign a speaker at all.
	MinUtterances int
}

// merge combines auto-matches and mention judgments into the final mapping,
// one entry per observed label, each participant name assigned at most once.
//
// The passes run in fixed order: auto-matches seed the result; per-speaker
// judgment evidence claims names with duplicates resolved toward the
// strongest claim; a paired elimination handles the fully determined
// remainder; a second-chance pass re-scores demoted claims against the names
// still free; a residual elimination spends the leftovers; anything still
// open becomes "Unknown". Every pass derives unmapped speakers and used
// names from the result itself, so no pass can overwrite an earlier
// assignment or reuse its name. All iteration orders are fixed (labels
// lexicographic, names in authoritative-list order), making the merge a pure
// deterministic function of its input.
func merge(in mergeInput) []identity.Mapping {
	result := make(map[string]identity.Mapping, len(in.Labels))

	// Pass 1: auto-matches are final.
	for label, name := range in.AutoMatched {
		result[label] = identity.Mapping{
			Speaker:     label,
			Name:        name,
			Confidence:  1.0,
			Method:      identity.MethodEmbedding,
			AutoMatched: true,
		}
	}

	evidence := collectEvidence(in)

	claimNames(in, evidence, result)
	pairedElimination(in, result)
	secondChance(in, evidence, result)
	residualElimination(in, result)

	// Final pass: whoever is still open is Unknown, and every entry that was
	// not auto-matched gets its review flag from one uniform rule.
	out := make([]identity.Mapping, 0, len(in.Labels))
	for _, label := range in.Labels {
		m, ok := result[label]
		if !ok {
			m = identity.Mapping{
				Speaker:    label,
				Name:       identity.Unknown,
				Confidence: 0,
				Method:     identity.MethodNone,
			}
		}
		if !m.AutoMatched {
			m.NeedsReview = m.Confidence < reviewThreshold ||
				m.Method == identity.MethodElimination ||
				m.Method == identity.MethodNone
		}
		out = append(out, m)
	}
	return out
}

// ─── Evidence aggregation ───────────────────────────────────────────────────

// nameEvidence aggregates the judgments claiming one name for one speaker.
type nameEvidence struct {
	count int
	sum   float64
}

func (ne nameEvidence) avg() float64 { return ne.sum / float64(ne.count) }

// speakerEvidence is the per-speaker view over all usable judgments.
type speakerEvidence struct {
	byName map[string]nameEvidence
	total  int // usable judgments for this speaker across all names
}

// collectEvidence groups the usable judgments by (speaker, name). Judgments
// for speakers outside the observed label set are dropped; the reasoner
// validates against that set, so this only matters for hand-built input.
func collectEvidence(in mergeInput) map[string]*speakerEvidence {
	labelSet := make(map[string]struct{}, len(in.Labels))
	for _, l := range in.Labels {
		labelSet[l] = struct{}{}
	}

	evidence := make(map[string]*speakerEvidence)
	for _, j := range in.Judgments {
		if !j.Usable() {
			continue
		}
		if _, ok := labelSet[j.Speaker]; !ok {
			continue
		}
		ev := evidence[j.Speaker]
		if ev == nil {
			ev = &speakerEvidence{byName: make(map[string]nameEvidence)}
			evidence[j.Speaker] = ev
		}
		ne := ev.byName[j.Name]
		ne.count++
		ne.sum += j.Confidence
		ev.byName[j.Name] = ne
		ev.total++
	}
	return evidence
}

// bestName selects the strongest claimable name for one speaker: highest
// occurrence count, then highest average confidence. Visiting participants
// in authoritative order makes that order the tie-break. Names in used are
// not claimable.
func bestName(ev *speakerEvidence, participants []string, used map[string]struct{}) (string, nameEvidence, bool) {
	var (
		name  string
		best  nameEvidence
		found bool
	)
	for _, candidate := range participants {
		ne, ok := ev.byName[candidate]
		if !ok {
			continue
		}
		if _, taken := used[candidate]; taken {
			continue
		}
		if !found || ne.count > best.count ||
			(ne.count == best.count && ne.avg() > best.avg()) {
			name, best, found = candidate, ne, true
		}
	}
	return name, best, found
}

// ─── Merge passes ───────────────────────────────────────────────────────────

// claimNames computes the best claimable name per unmapped speaker and
// commits, per name, the single strongest claim: highest average confidence,
// then most total judgments, ties falling to the lexicographically smallest
// label. Losers stay unmapped for the later passes.
func claimNames(in mergeInput, evidence map[string]*speakerEvidence, result map[string]identity.Mapping) {
	used := usedNames(result)

	type claim struct {
		label      string
		confidence float64 // average confidence of the claimed name
		judgments  int     // total usable judgments of the speaker
	}
	claims := make(map[string][]claim)
	for _, label := range unmappedLabels(in.Labels, result) {
		ev := evidence[label]
		if ev == nil {
			continue
		}
		name, ne, ok := bestName(ev, in.Participants, used)
		if !ok {
			continue
		}
		claims[name] = append(claims[name], claim{
			label:      label,
			confidence: ne.avg(),
			judgments:  ev.total,
		})
	}

	for _, name := range in.Participants {
		group := claims[name]
		if len(group) == 0 {
			continue
		}
		// group is in ascending label order, so strict comparisons keep the
		// smallest label on a full tie.
		winner := group[0]
		for _, c := range group[1:] {
			if c.confidence > winner.confidence ||
				(c.confidence == winner.confidence && c.judgments > winner.judgments) {
				winner = c
			}
		}
		result[winner.label] = identity.Mapping{
			Speaker:    winner.label,
			Name:       name,
			Confidence: winner.confidence,
			Method:     identity.MethodNameBased,
		}
	}
}

// pairedElimination handles the fully determined remainder: when exactly as
// many names are free as speakers are unmapped, the pairing is forced.
// Speakers below the utterance threshold are passed over and consume no name.
func pairedElimination(in mergeInput, result map[string]identity.Mapping) {
	unmapped := unmappedLabels(in.Labels, result)
	free := unusedNames(in.Participants, usedNames(result))
	if len(unmapped) == 0 || len(unmapped) != len(free) {
		return
	}

	next := 0
	for _, label := range unmapped {
		if in.UtteranceCount[label] < in.MinUtterances {
			continue
		}
		result[label] = identity.Mapping{
			Speaker:    label,
			Name:       free[next],
			Confidence: eliminationConfidence,
			Method:     identity.MethodElimination,
		}
		next++
	}
}

// secondChance lets speakers demoted during claimNames (or too weak to win
// there) claim a still-free name, ranked by 0.5 × occurrence count + 0.5 ×
// average confidence of that name. Commits greedily from the highest score;
// each commit removes its name from the pool.
func secondChance(in mergeInput, evidence map[string]*speakerEvidence, result map[string]identity.Mapping) {
	used := usedNames(result)

	type scored struct {
		label      string
		name       string
		confidence float64
		score      float64
	}
	var entries []scored
	for _, label := range unmappedLabels(in.Labels, result) {
		ev := evidence[label]
		if ev == nil {
			continue
		}
		name, ne, ok := bestName(ev, in.Participants, used)
		if !ok {
			continue
		}
		entries = append(entries, scored{
			label:      label,
			name:       name,
			confidence: ne.avg(),
			score:      0.5*float64(ne.count) + 0.5*ne.avg(),
		})
	}

	slices.SortFunc(entries, func(a, b scored) int {
		if a.score != b.score {
			return cmp.Compare(b.score, a.score) // descending
		}
		return strings.Compare(a.label, b.label)
	})

	for _, s := range entries {
		if _, taken := used[s.name]; taken {
			continue
		}
		result[s.label] = identity.Mapping{
			Speaker:    s.label,
			Name:       s.name,
			Confidence: s.confidence,
			Method:     identity.MethodScoreBased,
		}
		used[s.name] = struct{}{}
	}
}

// residualElimination spends the names that are still free on unmapped
// speakers that cleared the utterance threshold — most transcript evidence
// first, so the speaker with the most material gets the likelier name.
func residualElimination(in mergeInput, result map[string]identity.Mapping) {
	free := unusedNames(in.Participants, usedNames(result))
	if len(free) == 0 {
		return
	}

	var eligible []string
	for _, label := range unmappedLabels(in.Labels, result) {
		if in.UtteranceCount[label] >= in.MinUtterances {
			eligible = append(eligible, label)
		}
	}
	// eligible starts label-sorted; the stable sort keeps that order for
	// equal utterance counts.
	slices.SortStableFunc(eligible, func(a, b string) int {
		return cmp.Compare(in.UtteranceCount[b], in.UtteranceCount[a]) // descending
	})

	for i, label := range eligible {
		if i >= len(free) {
			break
		}
		result[label] = identity.Mapping{
			Speaker:    label,
			Name:       free[i],
			Confidence: eliminationConfidence,
			Method:     identity.MethodElimination,
		}
	}
}

// ─── Result-derived views ───────────────────────────────────────────────────

// usedNames is the set of names committed so far. Every pass recomputes this
// from the result itself, so no pass can hand out a name twice.
func usedNames(result map[string]identity.Mapping) map[string]struct{} {
	used := make(map[string]struct{}, len(result))
	for _, m := range result {
		if m.Name != identity.Unknown {
			used[m.Name] = struct{}{}
		}
	}
	return used
}

// unmappedLabels returns the labels without a result entry, in the sorted
// order of labels.
func unmappedLabels(labels []string, result map[string]identity.Mapping) []string {
	var out []string
	for _, l := range labels {
		if _, ok := result[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

// unusedNames returns the participant names absent from used, in
// authoritative-list order.
func unusedNames(participants []string, used map[string]struct{}) []string {
	var out []string
	for _, n := range participants {
		if _, ok := used[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
