package ledger

import (
	"fmt"
	"slices"
	"strings"
)

// Status is the subscription state of one key.
type Status string

const (
	StatusNone           Status = "NONE"
	StatusWanted         Status = "WANTED"
	StatusPendingRelease Status = "PENDING_RELEASE"
	StatusSubscribed     Status = "SUBSCRIBED"
	StatusIgnored        Status = "IGNORED"
)

// DefaultIgnoreReason is stored when an item is ignored without a reason.
const DefaultIgnoreReason = "manually ignored"

var allStatuses = []Status{
	StatusNone,
	StatusWanted,
	StatusPendingRelease,
	StatusSubscribed,
	StatusIgnored,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ActiveStatuses returns the statuses shown in active views. NONE is excluded.
func ActiveStatuses() []Status {
	return append([]Status(nil), allStatuses[1:]...)
}

// ParseStatus accepts status names case-insensitively, with '-' or ' ' for '_'.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for _, s := range allStatuses {
		if string(s) == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown subscription status %q", value)
}

// manualTransitions lists the targets a caller may request from each state.
// IGNORED is handled separately because leaving it requires ForceUnignore.
var manualTransitions = map[Status][]Status{
	StatusNone:           {StatusWanted, StatusPendingRelease, StatusIgnored},
	StatusWanted:         {StatusWanted, StatusSubscribed, StatusIgnored, StatusNone},
	StatusSubscribed:     {StatusSubscribed, StatusIgnored, StatusNone},
	StatusPendingRelease: {StatusPendingRelease, StatusIgnored, StatusNone},
	StatusIgnored:        {StatusIgnored},
}

// unignoreTargets are reachable from IGNORED when ForceUnignore is set.
var unignoreTargets = []Status{StatusWanted, StatusPendingRelease, StatusNone}

// CheckTransition reports whether a manual move from -> to is allowed.
func CheckTransition(from, to Status, forceUnignore bool) error {
	if from == StatusIgnored && to != StatusIgnored {
		if !forceUnignore {
			return ErrIgnoredRequiresForce
		}
		if slices.Contains(unignoreTargets, to) {
			return nil
		}
		return ErrInvalidTransition
	}
	if slices.Contains(manualTransitions[from], to) {
		return nil
	}
	return ErrInvalidTransition
}
