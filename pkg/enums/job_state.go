package enums

import "fmt"

// JobState is the lifecycle state of a queue job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobStates lists every state, used for stats reporting.
var JobStates = []JobState{
	JobStateWaiting,
	JobStateDelayed,
	JobStateActive,
	JobStateCompleted,
	JobStateFailed,
}

// String implements fmt.Stringer.
func (s JobState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known JobState.
func (s JobState) IsValid() bool {
	for _, candidate := range JobStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsPending reports whether the job may still run.
func (s JobState) IsPending() bool {
	return s == JobStateWaiting || s == JobStateDelayed || s == JobStateActive
}

// ParseJobState converts raw input into a JobState.
func ParseJobState(value string) (JobState, error) {
	state := JobState(value)
	if !state.IsValid() {
		return "", fmt.Errorf("invalid job state %q", value)
	}
	return state, nil
}
