package policy

import (
	"github.com/yegors/arrival-watch/internal/flightradar"
	"github.com/yegors/arrival-watch/internal/schedule"
)

// Action is the outcome of evaluating one flight
type Action int

const (
	ActionSkip Action = iota
	ActionNotify
)

func (a Action) String() string {
	if a == ActionNotify {
		return "notify"
	}
	return "skip"
}

// Skip reasons, in gate order
const (
	ReasonAlreadyNotified  = "already notified"
	ReasonLookupFailed     = "lookup failed"
	ReasonNotInSchedule    = "not in schedule"
	ReasonRecentlyDeparted = "too recently departed"
	ReasonNoETA            = "no ETA yet"
	ReasonTooFarOut        = "too far out"
)

// Decision is the result of Engine.Evaluate
type Decision struct {
	Action Action
	Reason string   // set for ActionSkip
	Lines  []string // message body for ActionNotify

	// Degraded marks the "not currently found" notification sent when the
	// detail lookup comes back empty.
	Degraded bool

	// Flight is the detailed record when the lookup succeeded, otherwise the
	// listed flight that was evaluated.
	Flight flightradar.Flight
	Entry  schedule.Entry
	Err    error // lookup error behind ReasonLookupFailed
}

// ShouldNotify reports whether the decision asks for a notification
func (d Decision) ShouldNotify() bool {
	return d.Action == ActionNotify
}

func skip(reason string, f flightradar.Flight) Decision {
	return Decision{Action: ActionSkip, Reason: reason, Flight: f}
}
