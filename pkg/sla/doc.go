// Package sla implements the timer engine: per-policy deadline timers
// attached to workflow instances, warned and breached by a periodic
// sweep, started and stopped synchronously by committed transitions.
//
// Timer status only moves forward. Running becomes Warned, Warned
// becomes Breached, and any live status becomes Stopped; a stopped
// timer is frozen permanently. Escalation side effects run after the
// status change is durable and are best-effort: a failed escalation
// is logged, never rolled back into the timer's status.
package sla
