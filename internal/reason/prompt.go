package reason

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/speakerid/pkg/identity"
)

// Window sizes for the rolling prompt context. The history summary keeps the
// prompt bounded on long meetings; the rationale window carries just enough
// of the recent reasoning to keep consecutive verdicts consistent.
const (
	historyWindow     = 15
	rationaleWindow   = 5
	rationaleTruncate = 100
)

const systemPromptTemplate = `You are an expert at mapping meeting transcript speakers to participant names.

Participants: %s
IMPORTANT: choose only from the names above. Names outside the list are not valid answers.

Cues to weigh:
- Someone addressed directly usually answers in the next utterance.
- Someone mentioned in the third person often reacts right after.
- Speakers occasionally refer to themselves by name.

Remember your earlier analyses and keep new judgments consistent with them.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "speaker": "<diarization label, e.g. SPEAKER_00>",
  "name": "<participant name from the list>",
  "confidence": <0.0-1.0>,
  "reasoning": "<brief justification>"
}`

// buildSystemPrompt formats the system prompt with the participant list.
func buildSystemPrompt(participants []string) string {
	list := "(none)"
	if len(participants) > 0 {
		list = strings.Join(participants, ", ")
	}
	return fmt.Sprintf(systemPromptTemplate, list)
}

// buildUserPrompt assembles the per-mention user message: earlier scores,
// recent rationales, the analysis number, and the conversational context
// around the mention.
func buildUserPrompt(mention identity.NameMention, history []identity.Judgment, turn int) string {
	var sb strings.Builder

	if s := historySummary(history); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	if s := recentRationales(history); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "[analysis %d]\n\n", turn)
	sb.WriteString(contextBlock(mention))
	sb.WriteString("\n\nIdentify which speaker label belongs to the name mentioned above. Use the earlier analyses and the recent context to stay consistent.")

	return sb.String()
}

// historySummary renders the last historyWindow judgments grouped by
// mentioned name, so the model sees every score assigned per name so far.
// Fallback judgments (Unknown speaker or name) carry no usable signal and
// are skipped.
func historySummary(history []identity.Judgment) string {
	byName := make(map[string][]identity.Judgment)
	for _, j := range tail(history, historyWindow) {
		if j.MentionedName == "" || j.Name == identity.Unknown || j.Speaker == identity.Unknown {
			continue
		}
		byName[j.MentionedName] = append(byName[j.MentionedName], j)
	}
	if len(byName) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Earlier analyses (all scores per name):\n")
	for _, name := range sortedKeys(byName) {
		fmt.Fprintf(&sb, "\nScores for '%s':\n", name)

		bySpeaker := make(map[string][]identity.Judgment)
		for _, j := range byName[name] {
			bySpeaker[j.Speaker] = append(bySpeaker[j.Speaker], j)
		}
		for _, speaker := range sortedKeys(bySpeaker) {
			scores := bySpeaker[speaker]
			slices.SortStableFunc(scores, func(a, b identity.Judgment) int {
				return cmp.Compare(b.Confidence, a.Confidence)
			})
			for _, j := range scores {
				fmt.Fprintf(&sb, "  - %s → %s (confidence: %.2f, analysis #%d)\n",
					j.Speaker, j.Name, j.Confidence, j.Turn)
			}
		}
	}
	return sb.String()
}

// recentRationales renders the reasoning text of the last rationaleWindow
// judgments, truncated. Unlike the score summary, fallback entries are kept:
// seeing its own recent failures stops the model from repeating them.
func recentRationales(history []identity.Judgment) string {
	var lines []string
	for _, j := range tail(history, rationaleWindow) {
		if j.MentionedName == "" || j.Reasoning == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("  [analysis #%d] '%s': %s...",
			j.Turn, j.MentionedName, truncate(j.Reasoning, rationaleTruncate)))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Recent analysis context:\n" + strings.Join(lines, "\n") + "\n"
}

// contextBlock renders the utterances around the mention. The mention line
// itself is marked with an arrow; surrounding lines are indented.
func contextBlock(m identity.NameMention) string {
	var lines []string

	for _, seg := range m.ContextBefore {
		if seg.Text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s", orUnknownLabel(seg.Speaker), seg.Text))
	}

	if m.TargetText != "" && m.TargetSpeaker != "" {
		lines = append(lines, fmt.Sprintf("→ [%s] %s", m.TargetSpeaker, m.TargetText))
	} else {
		lines = append(lines, fmt.Sprintf("→ [name mentioned: '%s']", m.Name))
	}

	for _, seg := range m.ContextAfter {
		if seg.Text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s", orUnknownLabel(seg.Speaker), seg.Text))
	}

	return strings.Join(lines, "\n")
}

func orUnknownLabel(speaker string) string {
	if speaker == "" {
		return "UNKNOWN"
	}
	return speaker
}

// tail returns the last n elements of s, or all of s when shorter.
func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
