package app

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RunInfo holds metadata about an active resolution run.
type RunInfo struct {
	// RunID uniquely identifies this run within the process.
	RunID string

	// MeetingID is the meeting the run resolves.
	MeetingID string

	// StartedAt is when the run began.
	StartedAt time.Time
}

// ActiveRunError is returned by [RunManager.Begin] when the meeting already
// has a run in flight. It carries the blocking run's ID so callers can report
// what to wait for.
type ActiveRunError struct {
	MeetingID string
	RunID     string
}

func (e *ActiveRunError) Error() string {
	return fmt.Sprintf("app: a resolution run is already active for meeting %q (run %s)", e.MeetingID, e.RunID)
}

// RunManager tracks in-flight resolution runs. At most one run per meeting
// may be active; a second Begin for the same meeting is rejected with
// [*ActiveRunError] rather than interleaved. Runs for different meetings
// proceed concurrently. All methods are safe for concurrent use.
type RunManager struct {
	mu   sync.Mutex
	runs map[string]RunInfo
	seq  uint64
}

// NewRunManager returns an empty, ready-to-use [RunManager].
func NewRunManager() *RunManager {
	return &RunManager{runs: make(map[string]RunInfo)}
}

// Begin claims meetingID for a new run and returns its metadata. The caller
// must release the claim with [RunManager.End] when the run finishes,
// successfully or not.
func (rm *RunManager) Begin(meetingID string) (RunInfo, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if active, ok := rm.runs[meetingID]; ok {
		return RunInfo{}, &ActiveRunError{MeetingID: meetingID, RunID: active.RunID}
	}

	rm.seq++
	now := time.Now().UTC()
	info := RunInfo{
		RunID: fmt.Sprintf("run-%s-%s-%d",
			sanitizeID(meetingID),
			now.Format("20060102T150405Z"),
			rm.seq,
		),
		MeetingID: meetingID,
		StartedAt: now,
	}
	rm.runs[meetingID] = info

	return info, nil
}

// End releases the claim on meetingID. Ending a meeting with no active run is
// a no-op.
func (rm *RunManager) End(meetingID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.runs, meetingID)
}

// Active returns the in-flight run for meetingID, if any.
func (rm *RunManager) Active(meetingID string) (RunInfo, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	info, ok := rm.runs[meetingID]
	return info, ok
}

// ActiveCount reports how many runs are currently in flight.
func (rm *RunManager) ActiveCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.runs)
}

// sanitizeID lowercases an identifier and replaces spaces with hyphens for
// use in run IDs.
func sanitizeID(id string) string {
	id = strings.ToLower(id)
	id = strings.ReplaceAll(id, " ", "-")
	return id
}
