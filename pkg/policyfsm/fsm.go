package policyfsm

import (
	"errors"

	"aegis/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid policy status transition")

type Event string

const (
	EventSyncSucceeded Event = "SYNC_SUCCEEDED"
	EventSyncFailed    Event = "SYNC_FAILED"
)

// CanTransition encodes the policy lifecycle: pending is the birth state,
// every sync attempt lands on active or inactive, and nothing returns to
// pending.
func CanTransition(from, to string) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusActive || to == models.StatusInactive
	case models.StatusActive, models.StatusInactive:
		return to == models.StatusActive || to == models.StatusInactive
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func Next(from string, event Event) (string, error) {
	switch event {
	case EventSyncSucceeded:
		return Transition(from, models.StatusActive)
	case EventSyncFailed:
		return Transition(from, models.StatusInactive)
	default:
		return from, ErrInvalidTransition
	}
}

// HasSynced reports whether at least one reconciliation attempt was recorded.
func HasSynced(status string) bool {
	return status == models.StatusActive || status == models.StatusInactive
}
