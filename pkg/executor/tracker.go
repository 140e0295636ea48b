package executor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cluster-rebalance/executor/pkg/contracts"
	"go.uber.org/zap"
)

// Tracker owns every Task for one batch: it materializes tasks from
// proposals, groups them by partition and broker, enforces concurrency
// caps, hands out runnable batches, and tallies progress (spec.md §4.2).
// A Tracker is used by exactly one Supervisor worker at a time; its cap
// setters may be called concurrently from any goroutine (spec.md §5).
type Tracker struct {
	log *zap.Logger

	mu sync.Mutex

	byType map[TaskType][]*Task

	// inProgressByBroker[type][brokerID] counts IN_PROGRESS tasks of the
	// given type occupying that broker, for the per-broker cap check.
	// Leader tasks don't use this map (their cap is global).
	inProgressByBroker map[TaskType]map[int32]int
	leaderInProgress    int

	exempt map[int32]bool

	capInter  atomic.Int64
	capIntra  atomic.Int64
	capLeader atomic.Int64

	nextExecutionID int64
}

// NewTracker constructs an empty Tracker with the given initial caps.
func NewTracker(log *zap.Logger, capInter, capIntra, capLeader int) *Tracker {
	t := &Tracker{
		log:                log.Named("tracker"),
		byType:             make(map[TaskType][]*Task),
		inProgressByBroker: map[TaskType]map[int32]int{
			InterBrokerReplica: make(map[int32]int),
			IntraBrokerReplica: make(map[int32]int),
		},
		exempt: make(map[int32]bool),
	}
	t.capInter.Store(int64(capInter))
	t.capIntra.Store(int64(capIntra))
	t.capLeader.Store(int64(capLeader))
	return t
}

// SetCapInter, SetCapIntra, SetCapLeader are the dynamic cap setters
// (spec.md §4.2). Changes take effect on the next batch; repeated calls
// with the same value are no-ops in effect (P6).
func (t *Tracker) SetCapInter(n int)  { t.capInter.Store(int64(n)) }
func (t *Tracker) SetCapIntra(n int)  { t.capIntra.Store(int64(n)) }
func (t *Tracker) SetCapLeader(n int) { t.capLeader.Store(int64(n)) }

func (t *Tracker) CapInter() int  { return int(t.capInter.Load()) }
func (t *Tracker) CapIntra() int  { return int(t.capIntra.Load()) }
func (t *Tracker) CapLeader() int { return int(t.capLeader.Load()) }

// AddProposals materializes tasks from proposals (spec.md §4.2): one LEADER
// task iff the proposal needs only a leader move, one INTER_BROKER task iff
// any replica is added/removed, and one INTRA_BROKER task per broker whose
// log directory changes. brokersExemptFromConcurrencyCap skip the per-broker
// cap check entirely (used for demoted-broker fast-drain scenarios).
func (t *Tracker) AddProposals(proposals []*Proposal, brokersExemptFromConcurrencyCap []int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range brokersExemptFromConcurrencyCap {
		t.exempt[b] = true
	}

	for _, p := range proposals {
		if p.needsInterBrokerMove() {
			task := &Task{
				ExecutionID: t.allocExecutionID(),
				Type:        InterBrokerReplica,
				Proposal:    p,
			}
			t.byType[InterBrokerReplica] = append(t.byType[InterBrokerReplica], task)
		} else if p.needsLeaderMove() {
			task := &Task{
				ExecutionID: t.allocExecutionID(),
				Type:        Leader,
				Proposal:    p,
			}
			t.byType[Leader] = append(t.byType[Leader], task)
		}

		for _, broker := range p.dirMoveBrokers() {
			task := &Task{
				ExecutionID: t.allocExecutionID(),
				Type:        IntraBrokerReplica,
				Proposal:    p,
				BrokerID:    broker,
			}
			t.byType[IntraBrokerReplica] = append(t.byType[IntraBrokerReplica], task)
		}
	}
}

func (t *Tracker) allocExecutionID() int64 {
	t.nextExecutionID++
	return t.nextExecutionID
}

// NextInterBrokerBatch, NextIntraBrokerBatch, NextLeaderBatch return the
// largest prefix of PENDING tasks of that type that can run concurrently
// under the current caps, in the order produced by strategy, and mark them
// IN_PROGRESS (spec.md §4.2). Emission stops at the first candidate that
// cannot be admitted, preserving deterministic order.
func (t *Tracker) NextInterBrokerBatch(strategy OrderingStrategy, snapshot contracts.ClusterSnapshot) []*Task {
	return t.nextBatch(InterBrokerReplica, strategy, snapshot)
}

func (t *Tracker) NextIntraBrokerBatch(strategy OrderingStrategy, snapshot contracts.ClusterSnapshot) []*Task {
	return t.nextBatch(IntraBrokerReplica, strategy, snapshot)
}

func (t *Tracker) NextLeaderBatch(strategy OrderingStrategy, snapshot contracts.ClusterSnapshot) []*Task {
	return t.nextBatch(Leader, strategy, snapshot)
}

func (t *Tracker) nextBatch(typ TaskType, strategy OrderingStrategy, snapshot contracts.ClusterSnapshot) []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := make([]*Task, 0)
	for _, task := range t.byType[typ] {
		if task.State() == Pending {
			pending = append(pending, task)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if strategy == nil {
		strategy = DefaultOrdering
	}
	ordered := strategy(pending, snapshot)

	limit := t.capFor(typ)
	counts := t.inProgressByBroker[typ] // nil for Leader, fine (not read below for leader)

	admittedPartitions := make(map[contracts.PartitionID]bool)
	batch := make([]*Task, 0)

	for _, task := range ordered {
		if typ != Leader {
			if !t.admitsUnderCap(task, counts, limit) {
				break
			}
		} else {
			if t.leaderInProgress+len(batch) >= limit {
				break
			}
		}
		// Never emit two tasks of the same type for the same partition in
		// one batch (the per-batch half of the "at most one INTER_BROKER /
		// LEADER task per partition" invariant; AddProposals creates at most
		// one of each per proposal). INTRA_BROKER is exempt: a partition can
		// have multiple directory-move tasks in flight, one per broker.
		if typ != IntraBrokerReplica {
			if admittedPartitions[task.partitionKey()] {
				continue
			}
			admittedPartitions[task.partitionKey()] = true
		}
		batch = append(batch, task)

		if typ != Leader {
			for _, key := range task.capKeys() {
				counts[key]++
			}
		}
	}

	now := time.Now().UnixMilli()
	for _, task := range batch {
		if err := task.transition(InProgress, now); err != nil {
			t.log.Error("illegal emission transition", zap.Int64("executionId", task.ExecutionID), zap.Error(err))
			continue
		}
		if typ == Leader {
			t.leaderInProgress++
		}
	}
	return batch
}

func (t *Tracker) capFor(typ TaskType) int {
	switch typ {
	case InterBrokerReplica:
		return t.CapInter()
	case IntraBrokerReplica:
		return t.CapIntra()
	default:
		return t.CapLeader()
	}
}

// admitsUnderCap implements the inter/intra-broker cap algorithm (spec.md
// §4.2): admit only if every broker the task touches is under cap, unless
// the broker is exempt. counts already reflects everything admitted earlier
// in this same batch plus everything already IN_PROGRESS.
func (t *Tracker) admitsUnderCap(task *Task, counts map[int32]int, limit int) bool {
	for _, broker := range task.capKeys() {
		if t.exempt[broker] {
			continue
		}
		if counts[broker] >= limit {
			return false
		}
	}
	return true
}

// MarkDone transitions an IN_PROGRESS task to COMPLETED, or an ABORTING
// task to ABORTED, releasing its cap occupancy.
func (t *Tracker) MarkDone(task *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var to State
	switch task.State() {
	case InProgress:
		to = Completed
	case Aborting:
		to = Aborted
	default:
		return NewIllegalStateError("tracker", errBadMarkDone(task))
	}
	if err := task.transition(to, time.Now().UnixMilli()); err != nil {
		return NewIllegalStateError("tracker", err)
	}
	if to == Completed {
		t.release(task)
	}
	return nil
}

// MarkAborting transitions an IN_PROGRESS task to ABORTING (partition
// vanished, or a cancel was initiated while still in flight). Cap
// occupancy is released immediately: an aborting task is no longer
// competing for broker capacity.
func (t *Tracker) MarkAborting(task *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := task.transition(Aborting, time.Now().UnixMilli()); err != nil {
		return NewIllegalStateError("tracker", err)
	}
	t.release(task)
	return nil
}

// MarkDead transitions an IN_PROGRESS or ABORTING task to DEAD.
func (t *Tracker) MarkDead(task *Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasAborting := task.State() == Aborting
	if err := task.transition(Dead, time.Now().UnixMilli()); err != nil {
		return NewIllegalStateError("tracker", err)
	}
	if !wasAborting {
		t.release(task)
	}
	return nil
}

// release decrements cap occupancy for a task leaving IN_PROGRESS. Safe to
// call once per task; tasks released via MarkAborting are not released
// again when they later reach ABORTED/DEAD.
func (t *Tracker) release(task *Task) {
	switch task.Type {
	case InterBrokerReplica, IntraBrokerReplica:
		counts := t.inProgressByBroker[task.Type]
		for _, key := range task.capKeys() {
			if counts[key] > 0 {
				counts[key]--
			}
		}
	case Leader:
		if t.leaderInProgress > 0 {
			t.leaderInProgress--
		}
	}
}

// InProgress returns all tasks of typ currently IN_PROGRESS or ABORTING.
func (t *Tracker) InProgress(typ TaskType) []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Task, 0)
	for _, task := range t.byType[typ] {
		if task.State() == InProgress || task.State() == Aborting {
			out = append(out, task)
		}
	}
	return out
}

// Remaining returns the count of tasks of typ not yet in a terminal state
// (PENDING, IN_PROGRESS, or ABORTING).
func (t *Tracker) Remaining(typ TaskType) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, task := range t.byType[typ] {
		if !task.State().Terminal() {
			n++
		}
	}
	return n
}

// Finished returns the terminal-state tasks of typ, grouped by outcome.
func (t *Tracker) Finished(typ TaskType) (completed, aborted, dead []*Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, task := range t.byType[typ] {
		switch task.State() {
		case Completed:
			completed = append(completed, task)
		case Aborted:
			aborted = append(aborted, task)
		case Dead:
			dead = append(dead, task)
		}
	}
	return
}

// Cancelled returns PENDING tasks of typ that were never submitted — the
// forced-stop-before-emission case (spec.md §4.1), reported in the summary
// as "cancelled".
func (t *Tracker) Cancelled(typ TaskType) []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Task, 0)
	for _, task := range t.byType[typ] {
		if task.State() == Pending {
			out = append(out, task)
		}
	}
	return out
}

// AllTasks returns every task the tracker owns, across all types.
func (t *Tracker) AllTasks() []*Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Task, 0)
	for _, typ := range []TaskType{InterBrokerReplica, IntraBrokerReplica, Leader} {
		out = append(out, t.byType[typ]...)
	}
	return out
}

func errBadMarkDone(task *Task) error {
	return fmt.Errorf("task %d not IN_PROGRESS or ABORTING, cannot mark done: state is %s",
		task.ExecutionID, task.State())
}
