// Package bundle assembles a meeting's upstream artifacts into an
// [identity.Meeting] ready for resolution.
//
// Two layouts are supported:
//
//   - a bundle directory holding one JSON file per artifact: transcript.json,
//     diarization.json, mentions.json and participants.json (the latter also
//     carries the meeting identity);
//   - a single combined JSON file in the [identity.Meeting] wire shape.
//
// Directory artifacts are read concurrently. They come from foreign
// pipelines, so unknown JSON fields are ignored rather than rejected, and a
// missing mentions.json simply means no mentions were extracted. The loaded
// meeting is checked against the engine input contract before it is
// returned, so broken bundles fail here instead of mid-run.
package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/speakerid/internal/engine"
	"github.com/MrWong99/speakerid/pkg/identity"
)

// Artifact file names inside a bundle directory.
const (
	TranscriptFile   = "transcript.json"
	DiarizationFile  = "diarization.json"
	MentionsFile     = "mentions.json"
	ParticipantsFile = "participants.json"
)

// manifest is the shape of participants.json: the human-confirmed participant
// list together with the meeting it belongs to.
type manifest struct {
	MeetingID    string   `json:"meeting_id"`
	UserID       string   `json:"user_id"`
	Participants []string `json:"participant_names"`
}

// Load reads the meeting bundle at path — a bundle directory or a combined
// JSON file — and validates it with [engine.ValidateMeeting]. Contract
// violations surface as [*engine.ContractError].
func Load(ctx context.Context, path string) (identity.Meeting, error) {
	info, err := os.Stat(path)
	if err != nil {
		return identity.Meeting{}, fmt.Errorf("bundle: stat %q: %w", path, err)
	}

	var meeting identity.Meeting
	if info.IsDir() {
		meeting, err = loadDir(ctx, path)
	} else {
		err = decodeFile(path, &meeting)
	}
	if err != nil {
		return identity.Meeting{}, err
	}

	if meeting.ID == "" {
		return identity.Meeting{}, fmt.Errorf("bundle: %q: meeting_id is required", path)
	}
	if err := engine.ValidateMeeting(meeting); err != nil {
		return identity.Meeting{}, err
	}
	return meeting, nil
}

// loadDir reads the four artifact files concurrently and assembles them.
func loadDir(ctx context.Context, dir string) (identity.Meeting, error) {
	var (
		transcript []identity.TranscriptSegment
		diar       identity.Diarization
		mentions   []identity.NameMention
		mf         manifest
	)

	eg, egCtx := errgroup.WithContext(ctx)

	// ── goroutine 1: transcript segments ─────────────────────────────────
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		return decodeFile(filepath.Join(dir, TranscriptFile), &transcript)
	})

	// ── goroutine 2: diarization result ──────────────────────────────────
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		return decodeFile(filepath.Join(dir, DiarizationFile), &diar)
	})

	// ── goroutine 3: name mentions (optional) ────────────────────────────
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		err := decodeFile(filepath.Join(dir, MentionsFile), &mentions)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	})

	// ── goroutine 4: participant manifest ────────────────────────────────
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		return decodeFile(filepath.Join(dir, ParticipantsFile), &mf)
	})

	if err := eg.Wait(); err != nil {
		return identity.Meeting{}, err
	}

	return identity.Meeting{
		ID:           mf.MeetingID,
		UserID:       mf.UserID,
		Transcript:   transcript,
		Diarization:  diar,
		Mentions:     mentions,
		Participants: mf.Participants,
	}, nil
}

// decodeFile opens path and JSON-decodes it into v.
func decodeFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bundle: open %q: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("bundle: parse %q: %w", path, err)
	}
	return nil
}
