package enums

import (
	"fmt"
	"time"
)

// ReminderStage names a recovery reminder by its offset from the idle time.
type ReminderStage string

const (
	ReminderStage1h  ReminderStage = "1h"
	ReminderStage24h ReminderStage = "24h"
	ReminderStage72h ReminderStage = "72h"
)

// ReminderStages lists the stages in delivery order.
var ReminderStages = []ReminderStage{
	ReminderStage1h,
	ReminderStage24h,
	ReminderStage72h,
}

var reminderStageOffsets = map[ReminderStage]time.Duration{
	ReminderStage1h:  time.Hour,
	ReminderStage24h: 24 * time.Hour,
	ReminderStage72h: 72 * time.Hour,
}

// Earlier stages are more urgent.
var reminderStagePriorities = map[ReminderStage]int{
	ReminderStage1h:  30,
	ReminderStage24h: 20,
	ReminderStage72h: 10,
}

// String implements fmt.Stringer.
func (s ReminderStage) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReminderStage.
func (s ReminderStage) IsValid() bool {
	_, ok := reminderStageOffsets[s]
	return ok
}

// Offset is the delay after the cart went idle.
func (s ReminderStage) Offset() time.Duration {
	return reminderStageOffsets[s]
}

// Priority is the queue priority used for the stage's job.
func (s ReminderStage) Priority() int {
	return reminderStagePriorities[s]
}

// IsFinal reports whether s is the last stage of the sequence.
func (s ReminderStage) IsFinal() bool {
	return s == ReminderStages[len(ReminderStages)-1]
}

// ParseReminderStage converts raw input into a ReminderStage.
func ParseReminderStage(value string) (ReminderStage, error) {
	stage := ReminderStage(value)
	if !stage.IsValid() {
		return "", fmt.Errorf("invalid reminder stage %q", value)
	}
	return stage, nil
}
