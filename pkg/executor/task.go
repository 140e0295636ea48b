package executor

import (
	"fmt"

	"github.com/cluster-rebalance/executor/pkg/contracts"
)

// TaskType is the three kinds of work the Supervisor Loop drives, in the
// strict order they execute (spec.md §4.6).
type TaskType int

const (
	InterBrokerReplica TaskType = iota
	IntraBrokerReplica
	Leader
)

func (t TaskType) String() string {
	switch t {
	case InterBrokerReplica:
		return "INTER_BROKER_REPLICA"
	case IntraBrokerReplica:
		return "INTRA_BROKER_REPLICA"
	case Leader:
		return "LEADER"
	default:
		return "UNKNOWN"
	}
}

// State is a Task's lifecycle position (spec.md §4.1). PENDING, IN_PROGRESS,
// ABORTING are transient; COMPLETED, ABORTED, DEAD are terminal and sticky.
type State int

const (
	Pending State = iota
	InProgress
	Aborting
	Aborted
	Completed
	Dead
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Aborting:
		return "ABORTING"
	case Aborted:
		return "ABORTED"
	case Completed:
		return "COMPLETED"
	case Dead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is a sticky, terminal state.
func (s State) Terminal() bool {
	return s == Completed || s == Aborted || s == Dead
}

// validTransitions enumerates the only edges the state machine allows
// (spec.md §4.1). Keyed by (from, to).
var validTransitions = map[[2]State]bool{
	{Pending, InProgress}:    true,
	{InProgress, Completed}:  true,
	{InProgress, Aborting}:   true,
	{InProgress, Dead}:       true,
	{Aborting, Aborted}:      true,
	{Aborting, Dead}:         true,
}

// Task is one executable unit derived from a Proposal (spec.md §3). A Task's
// state is mutated exclusively by the Task Tracker, from the Supervisor
// worker; Task itself exposes only the transition function, which applies an
// allowed edge or returns an error describing the disallowed one, per the
// tagged-variant design note in spec.md §9.
type Task struct {
	ExecutionID int64
	Type        TaskType
	Proposal    *Proposal

	// BrokerID is the destination broker for INTRA_BROKER_REPLICA tasks;
	// it is unused (zero) for the other two types.
	BrokerID int32

	state          State
	startTimeMs    int64
	slowAlertedAtMs int64
}

// State returns the task's current lifecycle state.
func (t *Task) State() State { return t.state }

// StartTimeMs returns when the task transitioned PENDING->IN_PROGRESS, or 0
// if it never has.
func (t *Task) StartTimeMs() int64 { return t.startTimeMs }

// SlowAlertedAtMs returns the task's slowAlertedAtMs field. Nothing writes
// it, so it is always 0: the slow-task alert backoff is per-executor and is
// kept by the Supervisor (lastSlowAlertMs in supervisor.go).
func (t *Task) SlowAlertedAtMs() int64 { return t.slowAlertedAtMs }

// transition applies a state edge, stamping startTimeMs when leaving
// PENDING. Returns an error describing the disallowed edge rather than
// panicking: invalid transitions are a programmer error in the Supervisor,
// not a task-level fatal condition.
func (t *Task) transition(to State, nowMs int64) error {
	if t.state.Terminal() {
		return fmt.Errorf("task %d: cannot leave terminal state %s", t.ExecutionID, t.state)
	}
	if !validTransitions[[2]State{t.state, to}] {
		return fmt.Errorf("task %d: illegal transition %s -> %s", t.ExecutionID, t.state, to)
	}
	if t.state == Pending && to == InProgress {
		t.startTimeMs = nowMs
	}
	t.state = to
	return nil
}

// partitionKey groups tasks by partition for the tracker's per-partition
// bookkeeping (at most one INTER_BROKER and one LEADER task per partition,
// spec.md §3 invariants).
func (t *Task) partitionKey() contracts.PartitionID {
	return t.Proposal.Partition
}

// capKeys returns the broker scopes this task occupies for concurrency-cap
// purposes (spec.md §4.2): inter-broker tasks occupy every source and
// destination broker; intra-broker tasks occupy their one broker; leader
// tasks occupy no per-broker scope (the cap is global).
func (t *Task) capKeys() []int32 {
	switch t.Type {
	case InterBrokerReplica:
		keys := append([]int32{}, t.Proposal.sourceBrokers()...)
		keys = append(keys, t.Proposal.destBrokers()...)
		return keys
	case IntraBrokerReplica:
		return []int32{t.BrokerID}
	default:
		return nil
	}
}
