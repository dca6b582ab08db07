package sla

import (
	"github.com/qmuntal/stateless"

	"github.com/flowplane/flowplane/pkg/stores"
)

// Timer lifecycle triggers.
const (
	triggerWarn   = "warn"
	triggerBreach = "breach"
	triggerStop   = "stop"
)

// newTimerMachine builds the timer lifecycle state machine seeded at
// the given status. Stopped is configured with no outgoing
// transitions, which makes it terminal.
func newTimerMachine(status stores.TimerStatus) *stateless.StateMachine {
	sm := stateless.NewStateMachine(status)
	sm.Configure(stores.TimerStatusRunning).
		Permit(triggerWarn, stores.TimerStatusWarned).
		Permit(triggerBreach, stores.TimerStatusBreached).
		Permit(triggerStop, stores.TimerStatusStopped)
	sm.Configure(stores.TimerStatusWarned).
		Permit(triggerBreach, stores.TimerStatusBreached).
		Permit(triggerStop, stores.TimerStatusStopped)
	sm.Configure(stores.TimerStatusBreached).
		Permit(triggerStop, stores.TimerStatusStopped)
	sm.Configure(stores.TimerStatusStopped)
	return sm
}

// advanceStatus fires a trigger against the lifecycle machine and
// returns the resulting status. An illegal trigger (for example warn
// on a stopped timer) returns an error and leaves the status as-is.
func advanceStatus(from stores.TimerStatus, trigger string) (stores.TimerStatus, error) {
	sm := newTimerMachine(from)
	if err := sm.Fire(trigger); err != nil {
		return from, err
	}
	return sm.MustState().(stores.TimerStatus), nil
}
