package engine

import (
	"fmt"
	"strings"

	"github.com/MrWong99/speakerid/pkg/identity"
)

// ContractError reports a meeting artifact that violates the input contract.
// Resolution runs fail fast on these before any stage executes; everything
// else the engine degrades through.
type ContractError struct {
	// Field names the offending artifact ("participants", "transcript",
	// "mentions", "diarization").
	Field string

	// Reason is a human-readable description of the violation.
	Reason string
}

// Error implements the error interface.
func (e *ContractError) Error() string {
	return fmt.Sprintf("engine: invalid %s: %s", e.Field, e.Reason)
}

// ValidateMeeting checks the upstream contract of a meeting bundle:
//
//   - A meeting with transcript segments or name mentions must have at least
//     one diarized speaker label and a non-empty participant list.
//   - Participant names are non-blank, unique, and never the reserved
//     "Unknown" placeholder.
//   - Every transcript segment carries a diarized speaker label.
//   - Every mention names a listed participant, and any speaker label it
//     references must be diarized.
//
// Returns a [*ContractError] describing the first violation found, nil when
// the meeting is well-formed. [Engine.Resolve] runs this check itself; the
// bundle loader applies it at load time so broken input fails before any
// provider is touched.
func ValidateMeeting(m identity.Meeting) error {
	labels := m.Diarization.Labels()
	hasContent := len(m.Transcript) > 0 || len(m.Mentions) > 0

	if hasContent && len(labels) == 0 {
		return &ContractError{Field: "diarization", Reason: "no speaker labels for a meeting with transcript or mentions"}
	}
	if hasContent && len(m.Participants) == 0 {
		return &ContractError{Field: "participants", Reason: "empty participant list for a meeting with transcript or mentions"}
	}

	names := make(map[string]struct{}, len(m.Participants))
	for i, name := range m.Participants {
		if strings.TrimSpace(name) == "" {
			return &ContractError{Field: "participants", Reason: fmt.Sprintf("entry %d is blank", i)}
		}
		if name == identity.Unknown {
			return &ContractError{Field: "participants", Reason: fmt.Sprintf("entry %d uses the reserved name %q", i, identity.Unknown)}
		}
		if _, dup := names[name]; dup {
			return &ContractError{Field: "participants", Reason: fmt.Sprintf("duplicate name %q", name)}
		}
		names[name] = struct{}{}
	}

	labelSet := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		labelSet[l] = struct{}{}
	}

	for i, seg := range m.Transcript {
		if seg.Speaker == "" {
			return &ContractError{Field: "transcript", Reason: fmt.Sprintf("segment %d has no speaker label", i)}
		}
		if _, ok := labelSet[seg.Speaker]; !ok {
			return &ContractError{Field: "transcript", Reason: fmt.Sprintf("segment %d references undiarized speaker %q", i, seg.Speaker)}
		}
	}

	for i, men := range m.Mentions {
		if _, ok := names[men.Name]; !ok {
			return &ContractError{Field: "mentions", Reason: fmt.Sprintf("mention %d names %q, which is not a listed participant", i, men.Name)}
		}
		if men.MentionedBy != "" {
			if _, ok := labelSet[men.MentionedBy]; !ok {
				return &ContractError{Field: "mentions", Reason: fmt.Sprintf("mention %d spoken by undiarized speaker %q", i, men.MentionedBy)}
			}
		}
		if men.TargetSpeaker != "" {
			if _, ok := labelSet[men.TargetSpeaker]; !ok {
				return &ContractError{Field: "mentions", Reason: fmt.Sprintf("mention %d targets undiarized speaker %q", i, men.TargetSpeaker)}
			}
		}
	}

	return nil
}
