package engine

import "github.com/MrWong99/speakerid/pkg/identity"

// groupUtterances collects transcript texts per speaker label, preserving
// transcript order within each group. Empty texts are kept so per-speaker
// utterance counts reflect the diarized segment counts used by the
// elimination thresholds.
func groupUtterances(segments []identity.TranscriptSegment) map[string][]string {
	groups := make(map[string][]string, 8)
	for _, seg := range segments {
		groups[seg.Speaker] = append(groups[seg.Speaker], seg.Text)
	}
	return groups
}
