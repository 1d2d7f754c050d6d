package engine

import (
	"context"
	"fmt"

	"github.com/MrWong99/speakerid/internal/observe"
	"github.com/MrWong99/speakerid/internal/reason"
	"github.com/MrWong99/speakerid/pkg/identity"
)

// judgeMentions runs the reasoning stage: one [Judge] call per name mention,
// strictly sequentially, each fed the accumulated history of earlier
// verdicts. Mentions whose name is already auto-matched are skipped without
// consuming a turn — the matcher's verdict outranks anything the reasoner
// could add.
//
// A failed call becomes a zero-confidence fallback judgment in the history
// and the run continues. Cancellation is the one exception: it aborts the
// run, and the caller gets an error instead of a partial mapping.
func (e *Engine) judgeMentions(ctx context.Context, meeting identity.Meeting, labels []string, auto map[string]string, stats *identity.RunStats) ([]identity.Judgment, error) {
	if e.judge == nil || len(meeting.Mentions) == 0 {
		return nil, nil
	}

	matchedNames := make(map[string]struct{}, len(auto))
	for _, name := range auto {
		matchedNames[name] = struct{}{}
	}

	history := make([]identity.Judgment, 0, len(meeting.Mentions))
	turn := 0
	for _, mention := range meeting.Mentions {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("engine: reasoning aborted: %w", err)
		}
		if _, ok := matchedNames[mention.Name]; ok {
			stats.MentionsSkipped++
			continue
		}
		turn++

		callCtx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
		j, err := e.judge.Judge(callCtx, reason.Query{
			Mention:      mention,
			Participants: meeting.Participants,
			Speakers:     labels,
			History:      history,
			Turn:         turn,
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("engine: reasoning aborted: %w", err)
			}
			stats.ReasonerFailures++
			e.metrics.RecordJudgment(ctx, "fallback")
			observe.Logger(ctx).Warn("mention judgment failed, recording zero-confidence fallback",
				"turn", turn,
				"name", mention.Name,
				"error", err,
			)
			history = append(history, fallbackJudgment(mention, turn, err))
			continue
		}

		e.metrics.RecordJudgment(ctx, "ok")
		history = append(history, j)
	}

	return history, nil
}

// fallbackJudgment is the zero-confidence placeholder recorded for a failed
// judgment call. It keeps turn numbering contiguous in the history while
// never counting as merge evidence.
func fallbackJudgment(mention identity.NameMention, turn int, err error) identity.Judgment {
	msg := err.Error()
	if len(msg) > 100 {
		msg = msg[:100]
	}
	return identity.Judgment{
		Speaker:       identity.Unknown,
		Name:          identity.Unknown,
		Confidence:    0,
		Reasoning:     "error: " + msg,
		Turn:          turn,
		Time:          mention.Time,
		MentionedName: mention.Name,
	}
}
