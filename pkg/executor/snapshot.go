package executor

import "time"

// Phase is the Supervisor's top-level state, distinct from a Task's state
// (spec.md §4.6).
type Phase int

const (
	NoTask Phase = iota
	Proposing
	Starting
	InterBrokerInProgress
	IntraBrokerInProgress
	LeaderInProgress
	Stopping
)

func (p Phase) String() string {
	switch p {
	case NoTask:
		return "NO_TASK"
	case Proposing:
		return "PROPOSING"
	case Starting:
		return "STARTING"
	case InterBrokerInProgress:
		return "INTER_BROKER_IN_PROGRESS"
	case IntraBrokerInProgress:
		return "INTRA_BROKER_IN_PROGRESS"
	case LeaderInProgress:
		return "LEADER_IN_PROGRESS"
	case Stopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// TypeCounters tallies one task type's tasks by outcome, for the Status
// Snapshot's per-type counters (spec.md §2 item 7).
type TypeCounters struct {
	Pending    int
	InProgress int
	Completed  int
	Aborted    int
	Dead       int
	Cancelled  int
}

// Snapshot is the immutable value object describing the controller's
// current state: phase, concurrency caps, uuid, reason, and per-type
// counters (spec.md §2 item 7). Published via a single atomic reference;
// readers always see a coherent point-in-time view (spec.md §5).
type Snapshot struct {
	Phase      Phase
	UUID       string
	Reason     string
	FetchedAt  time.Time

	CapInter  int
	CapIntra  int
	CapLeader int

	InterBroker TypeCounters
	IntraBroker TypeCounters
	Leader      TypeCounters
}

// emptySnapshot is the at-rest value published after cleanup (spec.md §7).
func emptySnapshot() Snapshot {
	return Snapshot{Phase: NoTask, FetchedAt: time.Now()}
}
