package enums

import "fmt"

// EngagementEvent is a recipient interaction with a reminder email.
type EngagementEvent string

const (
	EngagementOpened  EngagementEvent = "opened"
	EngagementClicked EngagementEvent = "clicked"
)

// ParseEngagementEvent converts raw input into an EngagementEvent.
func ParseEngagementEvent(value string) (EngagementEvent, error) {
	switch EngagementEvent(value) {
	case EngagementOpened, EngagementClicked:
		return EngagementEvent(value), nil
	}
	return "", fmt.Errorf("invalid engagement event %q", value)
}
