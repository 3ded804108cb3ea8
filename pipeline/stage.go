package pipeline

import "fmt"

// Stage is a step of per-frame processing.
type Stage int

const (
	RawDetections Stage = iota
	Summarized
	Persisted
	SnapshotComputed
	DeficiencyComputed
	Delivered
)

var stageNames = [...]string{
	RawDetections:      "raw_detections",
	Summarized:         "summarized",
	Persisted:          "persisted",
	SnapshotComputed:   "snapshot_computed",
	DeficiencyComputed: "deficiency_computed",
	Delivered:          "delivered",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageError reports a failure while moving a frame into Stage. When Stage
// is after Persisted the frame's record has been committed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Committed reports whether the failed frame's record was persisted.
func (e *StageError) Committed() bool { return e.Stage > Persisted }
