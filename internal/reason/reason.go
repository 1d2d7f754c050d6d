// Package reason implements the name-mention reasoning stage: one LLM call
// per detected name mention, judging which diarization label the mentioned
// participant belongs to.
//
// The [Reasoner] sends the conversational context around a mention to an
// [llm.Provider] together with the authoritative participant list and a
// rolling summary of its earlier judgments, so consecutive calls stay
// consistent with each other. The model is instructed to return a structured
// JSON verdict; responses that fail to parse, name a speaker label that was
// never observed, claim a name outside the participant list, or report a
// confidence outside [0, 1] are rejected with an error. Callers decide how to
// degrade — the identification engine records a zero-confidence fallback and
// moves on to the next mention.
//
// Calls are made strictly sequentially by design: each judgment feeds the
// prompt of the next one.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/speakerid/internal/namematch"
	"github.com/MrWong99/speakerid/pkg/identity"
	llm "github.com/MrWong99/speakerid/pkg/provider/llm"
)

const defaultTemperature = 0.3

// Query carries one name mention together with the run state the reasoner
// needs to judge it.
type Query struct {
	// Mention is the name occurrence under analysis.
	Mention identity.NameMention

	// Participants is the authoritative participant name list in its
	// original order.
	Participants []string

	// Speakers is the set of diarization labels observed in this meeting.
	// Judged speakers outside this set are rejected.
	Speakers []string

	// History holds every judgment of this run so far, including
	// zero-confidence fallbacks for failed calls.
	History []identity.Judgment

	// Turn is the 1-based sequence number of this mention within the run.
	Turn int
}

// judgmentResponse is the expected JSON structure returned by the LLM.
type judgmentResponse struct {
	Speaker    string  `json:"speaker"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Option is a functional option for configuring a [Reasoner].
type Option func(*Reasoner)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more deterministic judgments. Default: 0.3.
func WithTemperature(temp float64) Option {
	return func(r *Reasoner) {
		r.temperature = temp
	}
}

// Reasoner judges name mentions using an [llm.Provider]. It is safe for
// concurrent use, though the identification engine calls it sequentially.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model for reasoning, construct the [llm.Provider] with that model
// configured, rather than overriding per-request.
type Reasoner struct {
	llm         llm.Provider
	names       *namematch.Matcher
	temperature float64
}

// New returns a new [Reasoner] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Reasoner {
	r := &Reasoner{
		llm:         provider,
		names:       namematch.New(),
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Judge asks the LLM which speaker label the mentioned name belongs to and
// returns the validated judgment. The judged name is canonicalized to its
// exact spelling from q.Participants.
//
// Network errors, context cancellation, unparseable responses, and verdicts
// that violate the run contract are all returned as errors; no partial
// judgment is returned alongside them.
func (r *Reasoner) Judge(ctx context.Context, q Query) (identity.Judgment, error) {
	req := llm.CompletionRequest{
		SystemPrompt: buildSystemPrompt(q.Participants),
		Temperature:  r.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: buildUserPrompt(q.Mention, q.History, q.Turn)},
		},
	}

	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		return identity.Judgment{}, fmt.Errorf("reason: complete: %w", err)
	}

	slog.Debug("reasoner completion",
		"model", r.llm.ModelID(),
		"turn", q.Turn,
		"name", q.Mention.Name,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	parsed, err := parseJudgment(resp.Content)
	if err != nil {
		return identity.Judgment{}, fmt.Errorf("reason: %w", err)
	}

	return r.validate(parsed, q)
}

// parseJudgment unmarshals the LLM output into a [judgmentResponse]. It
// strips markdown code fences before parsing.
func parseJudgment(content string) (judgmentResponse, error) {
	cleaned := stripMarkdown(content)

	var p judgmentResponse
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return judgmentResponse{}, fmt.Errorf("parse judgment: %w", err)
	}
	return p, nil
}

// validate checks a parsed verdict against the run contract and assembles
// the final judgment. An Unknown speaker or name is a legitimate verdict of
// uncertainty and passes through; it is excluded from merge evidence later
// via [identity.Judgment.Usable].
func (r *Reasoner) validate(p judgmentResponse, q Query) (identity.Judgment, error) {
	if p.Confidence < 0 || p.Confidence > 1 {
		return identity.Judgment{}, fmt.Errorf("validate judgment: confidence %v outside [0, 1]", p.Confidence)
	}

	speaker := strings.TrimSpace(p.Speaker)
	if speaker != identity.Unknown && !slices.Contains(q.Speakers, speaker) {
		return identity.Judgment{}, fmt.Errorf("validate judgment: speaker %q not among observed labels", p.Speaker)
	}

	name := strings.TrimSpace(p.Name)
	if name != identity.Unknown {
		canonical, ok := r.names.Canonical(name, q.Participants)
		if !ok {
			return identity.Judgment{}, fmt.Errorf("validate judgment: name %q not in participant list", p.Name)
		}
		name = canonical
	}

	return identity.Judgment{
		Speaker:       speaker,
		Name:          name,
		Confidence:    p.Confidence,
		Reasoning:     p.Reasoning,
		Turn:          q.Turn,
		Time:          q.Mention.Time,
		MentionedName: q.Mention.Name,
	}, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
