package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cluster-rebalance/executor/pkg/contracts"
	"go.uber.org/zap"
)

// BatchRequest is everything the Supervisor Loop needs to drive one batch
// from STARTING through NO_TASK (spec.md §4.6).
type BatchRequest struct {
	UUID           string
	Proposals      []*Proposal
	DemotedBrokers []int32 // non-nil only for executeDemote
	ExemptBrokers  []int32
	UserTriggered  bool
	Mode           ExecutionMode
	ReasonProvider func() string
}

// Supervisor is the three-phase executor (spec.md §4.6): it sequences
// inter-broker moves, intra-broker moves, and leader transfers, submitting
// batches through the external Admin API / Coordination store and polling
// cluster metadata to detect completion, stalls, and drops.
type Supervisor struct {
	log *zap.Logger

	tracker         *Tracker
	demotionHistory *History
	removalHistory  *History
	admin           contracts.AdminAPI
	metadata        contracts.MetadataClient
	coord           contracts.CoordinationStore
	loadMonitor     contracts.LoadMonitor
	throttle        contracts.ThrottleHelper
	notifier        contracts.Notifier
	anomaly         contracts.AnomalyDetector
	userTasks       contracts.UserTaskManager
	session         sessionView
	metrics         *Metrics
	cfg             func() Config
	ordering        OrderingStrategy
	clock           contracts.Clock

	lastSlowAlertMs int64

	futuresMu     sync.Mutex
	futures       map[contracts.PartitionID]contracts.ReassignmentFuture
	probedFutures map[contracts.PartitionID]bool
}

// NewSupervisor constructs a Supervisor. Any contracts.* argument may be
// nil except admin, metadata, and coord, matching which collaborators the
// phase loops can proceed without (no notifier, no anomaly detector, no
// per-user task tracking, no throttle helper). A nil load monitor is only
// safe while Run is never called: Run and cleanup switch its sampling mode
// unconditionally, and Controller.Execute refuses a batch without one.
func NewSupervisor(
	log *zap.Logger,
	tracker *Tracker,
	demotionHistory, removalHistory *History,
	admin contracts.AdminAPI,
	metadata contracts.MetadataClient,
	coord contracts.CoordinationStore,
	loadMonitor contracts.LoadMonitor,
	throttle contracts.ThrottleHelper,
	notifier contracts.Notifier,
	anomaly contracts.AnomalyDetector,
	userTasks contracts.UserTaskManager,
	session sessionView,
	metrics *Metrics,
	cfg func() Config,
	ordering OrderingStrategy,
	clock contracts.Clock,
) *Supervisor {
	if clock == nil {
		clock = contracts.RealClock{}
	}
	return &Supervisor{
		log:             log.Named("supervisor"),
		tracker:         tracker,
		demotionHistory: demotionHistory,
		removalHistory:  removalHistory,
		admin:           admin,
		metadata:        metadata,
		coord:           coord,
		loadMonitor:     loadMonitor,
		throttle:        throttle,
		notifier:        notifier,
		anomaly:         anomaly,
		userTasks:       userTasks,
		session:         session,
		metrics:         metrics,
		cfg:             cfg,
		ordering:        ordering,
		clock:           clock,
		futures:         make(map[contracts.PartitionID]contracts.ReassignmentFuture),
		probedFutures:   make(map[contracts.PartitionID]bool),
	}
}

// Preflight checks the three entry preconditions of spec.md §4.6 before
// the caller marks the batch ongoing. It has no side effects on failure.
func (sv *Supervisor) Preflight(ctx context.Context) error {
	ongoing, err := sv.admin.ListOngoingReassignments(ctx)
	if err != nil {
		return NewIllegalStateError("supervisor.preflight", err)
	}
	if len(ongoing) > 0 {
		return NewOngoingExecutionError("supervisor.preflight",
			fmt.Errorf("%d partition(s) already under reassignment", len(ongoing)))
	}

	dirs, err := sv.admin.DescribeLogDirs(ctx, nil)
	if err != nil {
		return NewIllegalStateError("supervisor.preflight", err)
	}
	for _, dir := range dirs {
		for _, r := range dir.Replicas {
			if r.FutureDir != "" {
				return NewOngoingExecutionError("supervisor.preflight",
					fmt.Errorf("broker %d has an in-flight directory move", dir.BrokerID))
			}
		}
	}

	elections, err := sv.coord.ListOngoingPreferredLeaderElections(ctx)
	if err != nil {
		return NewIllegalStateError("supervisor.preflight", err)
	}
	if len(elections) > 0 {
		return NewOngoingExecutionError("supervisor.preflight",
			fmt.Errorf("%d preferred-leader election(s) already in flight", len(elections)))
	}
	return nil
}

// Run drives req from STARTING through NO_TASK. It is started on the
// Controller's single worker and always performs cleanup on exit (spec.md
// §7), regardless of how it terminates.
func (sv *Supervisor) Run(ctx context.Context, req BatchRequest) {
	sv.tracker.AddProposals(req.Proposals, req.ExemptBrokers)
	for _, b := range req.DemotedBrokers {
		sv.demotionHistory.NoteStart(b, sv.clock.Now())
	}
	if len(req.DemotedBrokers) > 0 {
		sv.session.SetSkipAutoConcurrency(true)
	}

	if req.Mode == FullAssigner {
		sv.metrics.StartedInAssignerMode.Inc()
	} else {
		sv.metrics.StartedInNonAssignerMode.Inc()
	}
	if sv.userTasks != nil && req.UserTriggered {
		sv.userTasks.MarkBegan(req.UUID)
	}

	if err := sv.loadMonitor.SetSamplingMode(ctx, contracts.SamplingBrokerMetricsOnly); err != nil {
		sv.log.Warn("failed to switch sampling mode", zap.Error(err))
	}

	exitErr := sv.runPhases(ctx, req)

	sv.cleanup(ctx, req, exitErr)
}

func (sv *Supervisor) runPhases(ctx context.Context, req BatchRequest) (exitErr error) {
	defer func() {
		if r := recover(); r != nil {
			exitErr = NewUnexpectedError("supervisor", fmt.Errorf("panic: %v", r))
		}
	}()

	phases := []struct {
		typ   TaskType
		phase Phase
	}{
		{InterBrokerReplica, InterBrokerInProgress},
		{IntraBrokerReplica, IntraBrokerInProgress},
		{Leader, LeaderInProgress},
	}

	for _, p := range phases {
		sv.publishPhase(req, p.phase)
		if err := sv.runOnePhase(ctx, req, p.typ); err != nil {
			return err
		}
		if sv.session.StopSignal() == StopForced {
			break
		}
	}

	if sv.session.StopSignal() == StopForced {
		if err := sv.coord.DeleteReassignmentMarkers(ctx); err != nil {
			sv.log.Error("forced-stop coordination intervention failed", zap.Error(err))
		}
	}
	return nil
}

// runOnePhase implements the per-phase submission/polling loop (spec.md
// §4.6).
func (sv *Supervisor) runOnePhase(ctx context.Context, req BatchRequest, typ TaskType) error {
	for sv.tracker.Remaining(typ) > 0 || len(sv.tracker.InProgress(typ)) > 0 {
		stop := sv.session.StopSignal()
		if stop == StopForced {
			break
		}
		if typ == InterBrokerReplica && stop == StopGraceful {
			break
		}

		snapshot, err := sv.metadata.Refresh(ctx)
		if err != nil {
			sv.log.Warn("metadata refresh failed, retrying next tick", zap.Error(err))
		}

		if typ == Leader {
			// Checked only after Refresh runs: Refresh is the only call
			// that prunes a cleared election from the coordination
			// client's tracked state, so checking before it would leave
			// this busy-wait spinning on a stale in-flight election
			// forever.
			if inFlight, err := sv.coord.ListOngoingPreferredLeaderElections(ctx); err == nil && len(inFlight) > 0 {
				sv.sleepProgressInterval(ctx)
				continue
			}
		}

		batch := sv.nextBatch(typ, snapshot)
		if len(batch) > 0 {
			if typ == InterBrokerReplica && sv.throttle != nil {
				if err := sv.throttle.SetThrottles(ctx, toReassignmentTasks(batch)); err != nil {
					sv.log.Warn("failed to set throttles", zap.Error(err))
				}
			}
			if err := sv.submit(ctx, typ, batch); err != nil {
				sv.log.Warn("submission error", zap.Error(err))
			}
		}

		completed, aborted, dead := sv.pollOnce(ctx, typ)
		sv.clearThrottlesIfDue(ctx, typ, completed, aborted)
		_ = dead

		sv.publishSnapshot(req)
	}

	sv.drainInProgressOfThisType(ctx, req, typ)
	return nil
}

// drainInProgressOfThisType runs one final poll pass after the loop above
// exits, unconditionally — a natural exit leaves nothing to drain, but a
// stop signal (FORCED in any phase, GRACEFUL in INTER_BROKER) breaks the
// loop before pollOnce runs again, which would otherwise strand IN_PROGRESS
// tasks of this type without ever being marked DEAD or rolled back (spec.md
// §4.6, §4.8).
func (sv *Supervisor) drainInProgressOfThisType(ctx context.Context, req BatchRequest, typ TaskType) {
	if len(sv.tracker.InProgress(typ)) == 0 {
		return
	}
	completed, aborted, _ := sv.pollOnce(ctx, typ)
	sv.clearThrottlesIfDue(ctx, typ, completed, aborted)
	sv.publishSnapshot(req)
}

func (sv *Supervisor) clearThrottlesIfDue(ctx context.Context, typ TaskType, completed, aborted []*Task) {
	if typ != InterBrokerReplica || sv.throttle == nil {
		return
	}
	completedPartitions := append(append([]contracts.PartitionID{}, partitionsOf(completed)...), partitionsOf(aborted)...)
	stillInProgress := partitionsOf(sv.tracker.InProgress(InterBrokerReplica))
	if err := sv.throttle.ClearThrottles(ctx, completedPartitions, stillInProgress); err != nil {
		sv.log.Warn("failed to clear throttles", zap.Error(err))
	}
}

func (sv *Supervisor) nextBatch(typ TaskType, snapshot contracts.ClusterSnapshot) []*Task {
	switch typ {
	case InterBrokerReplica:
		return sv.tracker.NextInterBrokerBatch(sv.ordering, snapshot)
	case IntraBrokerReplica:
		return sv.tracker.NextIntraBrokerBatch(sv.ordering, snapshot)
	default:
		return sv.tracker.NextLeaderBatch(sv.ordering, snapshot)
	}
}

func (sv *Supervisor) submit(ctx context.Context, typ TaskType, batch []*Task) error {
	switch typ {
	case InterBrokerReplica:
		futures, err := sv.admin.SubmitReplicaReassignments(ctx, toReassignmentTasks(batch))
		sv.futuresMu.Lock()
		for p, f := range futures {
			if f != nil {
				sv.futures[p] = *f
				sv.probedFutures[p] = false
			}
		}
		sv.futuresMu.Unlock()
		return err
	case IntraBrokerReplica:
		// Intra-broker directory moves are not submitted: pkg/contracts
		// has no directory-move submission method, so this case does
		// nothing and the task is only observed through DescribeLogDirs
		// (taskDone/taskDead).
		return nil
	default:
		return sv.coord.TriggerPreferredLeaderElection(ctx, toLeaderTasks(batch))
	}
}

// pollOnce is waitForProgress (spec.md §4.7/§4.6 step list), specialized to
// one task type per call (the outer loop in runOnePhase iterates it once
// per phase tick).
func (sv *Supervisor) pollOnce(ctx context.Context, typ TaskType) (completed, aborted, dead []*Task) {
	sv.sleepProgressInterval(ctx)

	sv.resubmitDropped(ctx, typ)

	snapshot, err := sv.metadata.Refresh(ctx)
	if err != nil {
		sv.log.Warn("metadata refresh failed during poll", zap.Error(err))
		return nil, nil, nil
	}

	var logDirs []contracts.LogDirInfo
	if typ == IntraBrokerReplica {
		logDirs, _ = sv.admin.DescribeLogDirs(ctx, nil)
	}

	nowMs := sv.clock.Now().UnixMilli()
	cfg := sv.cfg()
	stop := sv.session.StopSignal()

	// stoppedInter holds inter-broker tasks killed by a graceful stop (no
	// broker actually failed); deadBrokerInter holds ones that hit a real
	// dead condition. Forced stop kills are excluded from both: the
	// coordination-store intervention after all phases supersedes any
	// per-task cancel for those (spec.md §4.8, §4.6).
	var stoppedInter, deadBrokerInter []*Task

	for _, task := range sv.tracker.InProgress(typ) {
		switch {
		case stop == StopForced || (stop == StopGraceful && typ == InterBrokerReplica):
			if err := sv.tracker.MarkDead(task); err == nil {
				dead = append(dead, task)
				if typ == InterBrokerReplica && stop == StopGraceful {
					stoppedInter = append(stoppedInter, task)
				}
			}

		case partitionVanished(task, snapshot):
			if task.State() == InProgress {
				_ = sv.tracker.MarkAborting(task)
			}
			if err := sv.tracker.MarkDone(task); err == nil {
				aborted = append(aborted, task)
			}

		case taskDone(task, snapshot, logDirs):
			if err := sv.tracker.MarkDone(task); err == nil {
				completed = append(completed, task)
			}

		case sv.taskDead(ctx, task, snapshot, logDirs, cfg, nowMs):
			if err := sv.tracker.MarkDead(task); err == nil {
				dead = append(dead, task)
				if typ == InterBrokerReplica {
					deadBrokerInter = append(deadBrokerInter, task)
				}
			}

		default:
			sv.maybeAlertSlow(task, nowMs, cfg)
		}
	}

	if len(stoppedInter) > 0 || len(deadBrokerInter) > 0 {
		sv.rollback(ctx, stoppedInter, deadBrokerInter)
	}
	if len(deadBrokerInter) > 0 && sv.session.StopSignal() == StopNone {
		sv.session.RequestStop(false)
	}

	if sv.metrics != nil {
		label := map[TaskType]string{InterBrokerReplica: "inter_broker", IntraBrokerReplica: "intra_broker", Leader: "leader"}[typ]
		sv.metrics.TaskCompletions.WithLabelValues(label, "completed").Add(float64(len(completed)))
		sv.metrics.TaskCompletions.WithLabelValues(label, "aborted").Add(float64(len(aborted)))
		sv.metrics.TaskCompletions.WithLabelValues(label, "dead").Add(float64(len(dead)))
	}

	return completed, aborted, dead
}

func (sv *Supervisor) maybeAlertSlow(task *Task, nowMs int64, cfg Config) {
	if nowMs-sv.lastSlowAlertMs < int64(cfg.SlowTaskAlertBackoffMs) {
		return
	}
	sv.lastSlowAlertMs = nowMs
	if sv.notifier != nil {
		sv.notifier.SendAlert(fmt.Sprintf("task %d (%s) for %s is running slowly",
			task.ExecutionID, task.Type, task.partitionKey()))
	}
	sv.log.Warn("slow task", zap.Int64("executionId", task.ExecutionID), zap.Stringer("type", task.Type))
}

// rollback submits a cancel reassignment for every dead/stopped
// inter-broker task (spec.md §4.8), reverting each to its current replica
// set. If any were purely user-stopped (no dead brokers involved), it
// blocks until the cluster's active-reassignment set no longer intersects
// the cancelled set.
func (sv *Supervisor) rollback(ctx context.Context, stoppedInter, deadBrokerInter []*Task) {
	all := append(append([]*Task{}, stoppedInter...), deadBrokerInter...)
	cancel := make([]contracts.ReassignmentTask, 0, len(all))
	partitions := make(map[contracts.PartitionID]bool, len(all))

	for _, t := range all {
		cancel = append(cancel, contracts.ReassignmentTask{
			Partition:      t.partitionKey(),
			TargetReplicas: t.Proposal.CurrentReplicas,
		})
		partitions[t.partitionKey()] = true
	}

	if err := sv.admin.CancelReassignments(ctx, cancel); err != nil {
		sv.log.Error("rollback submission failed", zap.Error(err))
		return
	}

	if len(deadBrokerInter) > 0 {
		// Dead-broker rollbacks don't block: a future execution attempt's
		// preflight will observe the residual ongoing reassignment and
		// refuse to start until it clears (spec.md §4.8).
		return
	}

	for {
		active, err := sv.admin.ListOngoingReassignments(ctx)
		if err != nil {
			sv.log.Warn("failed to poll rollback completion", zap.Error(err))
		}
		stillActive := false
		for p := range partitions {
			if active[p] {
				stillActive = true
				break
			}
		}
		if !stillActive {
			return
		}
		sv.sleepProgressInterval(ctx)
	}
}

// resubmitDropped re-submits inter-broker and leader tasks the Tracker
// believes are in progress but that the cluster is no longer executing, due
// to a race with the cluster controller (spec.md §4.7). Dropped intra-broker
// tasks are only logged, not re-submitted, since submit never sends
// directory moves.
func (sv *Supervisor) resubmitDropped(ctx context.Context, typ TaskType) {
	inProgress := sv.tracker.InProgress(typ)
	if len(inProgress) == 0 {
		return
	}

	switch typ {
	case InterBrokerReplica:
		active, err := sv.admin.ListOngoingReassignments(ctx)
		if err != nil {
			return
		}
		var missing []*Task
		for _, t := range inProgress {
			if t.State() == InProgress && !active[t.partitionKey()] {
				missing = append(missing, t)
			}
		}
		if len(missing) > 0 {
			sv.log.Warn("re-submitting dropped inter-broker tasks", zap.Int("count", len(missing)))
			_, _ = sv.admin.SubmitReplicaReassignments(ctx, toReassignmentTasks(missing))
		}

	case IntraBrokerReplica:
		dirs, err := sv.admin.DescribeLogDirs(ctx, nil)
		if err != nil {
			return
		}
		pending := make(map[contracts.PartitionID]bool)
		for _, d := range dirs {
			for p, r := range d.Replicas {
				if r.FutureDir != "" {
					pending[p] = true
				}
			}
		}
		var missing []*Task
		for _, t := range inProgress {
			if t.State() == InProgress && !pending[t.partitionKey()] {
				missing = append(missing, t)
			}
		}
		if len(missing) > 0 {
			sv.log.Warn("dropped intra-broker tasks detected, not re-submitted", zap.Int("count", len(missing)))
		}

	case Leader:
		// Leader re-submission runs only when no replica moves are
		// pending and no election is in flight (spec.md §4.7).
		if sv.tracker.Remaining(InterBrokerReplica) > 0 || sv.tracker.Remaining(IntraBrokerReplica) > 0 {
			return
		}
		if elections, err := sv.coord.ListOngoingPreferredLeaderElections(ctx); err != nil || len(elections) > 0 {
			return
		}
		var missing []*Task
		for _, t := range inProgress {
			missing = append(missing, t)
		}
		if len(missing) > 0 {
			_ = sv.coord.TriggerPreferredLeaderElection(ctx, toLeaderTasks(missing))
		}
	}
}

// progressIntervalMs resolves the poll interval for this tick: an operator
// override (set via Controller.SetProgressIntervalMs) always wins; absent
// one, it tracks the live-reloaded config value so an edit to the watched
// YAML file changes the cadence without waiting for the next batch (spec.md
// §9).
func (sv *Supervisor) progressIntervalMs() int {
	if sv.session.ProgressIntervalOverridden() {
		return sv.session.ProgressIntervalMs()
	}
	if sv.cfg != nil {
		if live := sv.cfg().ExecutionProgressCheckIntervalMs; live > 0 {
			return live
		}
	}
	return sv.session.ProgressIntervalMs()
}

func (sv *Supervisor) sleepProgressInterval(ctx context.Context) {
	interval := time.Duration(sv.progressIntervalMs()) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		// Interrupts are absorbed; loop termination is governed by
		// stopSignal, not context cancellation, except at shutdown
		// (spec.md §5).
	}
}

func (sv *Supervisor) publishPhase(req BatchRequest, phase Phase) {
	snap := sv.session.Snapshot()
	snap.Phase = phase
	snap.UUID = req.UUID
	if req.ReasonProvider != nil {
		snap.Reason = req.ReasonProvider()
	}
	snap.FetchedAt = sv.clock.Now()
	sv.fillCounters(&snap)
	sv.session.PublishSnapshot(snap)
	if sv.metrics != nil {
		sv.metrics.observeSnapshot(snap)
	}
}

func (sv *Supervisor) publishSnapshot(req BatchRequest) {
	snap := sv.session.Snapshot()
	snap.UUID = req.UUID
	snap.FetchedAt = sv.clock.Now()
	sv.fillCounters(&snap)
	sv.session.PublishSnapshot(snap)
	if sv.metrics != nil {
		sv.metrics.observeSnapshot(snap)
	}
}

func (sv *Supervisor) fillCounters(snap *Snapshot) {
	snap.CapInter = sv.tracker.CapInter()
	snap.CapIntra = sv.tracker.CapIntra()
	snap.CapLeader = sv.tracker.CapLeader()
	snap.InterBroker = sv.countersFor(InterBrokerReplica)
	snap.IntraBroker = sv.countersFor(IntraBrokerReplica)
	snap.Leader = sv.countersFor(Leader)
}

func (sv *Supervisor) countersFor(typ TaskType) TypeCounters {
	completed, aborted, dead := sv.tracker.Finished(typ)
	return TypeCounters{
		Pending:    sv.tracker.Remaining(typ) - len(sv.tracker.InProgress(typ)),
		InProgress: len(sv.tracker.InProgress(typ)),
		Completed:  len(completed),
		Aborted:    len(aborted),
		Dead:       len(dead),
		Cancelled:  len(sv.tracker.Cancelled(typ)),
	}
}

// cleanup is the unconditional exit path of spec.md §7: clear state,
// publish NO_TASK, restore sampling, notify, and inform the anomaly
// detector or user-task manager.
func (sv *Supervisor) cleanup(ctx context.Context, req BatchRequest, exitErr error) {
	if err := sv.loadMonitor.SetSamplingMode(ctx, contracts.SamplingAll); err != nil {
		sv.log.Warn("failed to restore sampling mode", zap.Error(err))
	}

	stoppedByUser := sv.session.StopSignal() != StopNone && sv.session.wasStoppedByUser()
	stopped := sv.session.StopSignal() != StopNone

	sv.session.PublishSnapshot(emptySnapshot())
	sv.session.reset()

	var msg string
	switch {
	case exitErr != nil:
		msg = fmt.Sprintf("interrupted with exception %v", exitErr)
		sv.log.Error("execution ended with unexpected error", zap.Error(exitErr))
	case stoppedByUser:
		msg = "stopped by user"
		sv.metrics.ExecutionStoppedByUser.Inc()
		sv.metrics.ExecutionStopped.Inc()
	case stopped:
		msg = "stopped by self"
		sv.metrics.ExecutionStopped.Inc()
	default:
		msg = "finished"
	}

	if sv.notifier != nil {
		sv.notifier.SendNotification(msg)
	}

	if sv.userTasks != nil && req.UserTriggered {
		sv.userTasks.MarkFinished(req.UUID, stopped || exitErr != nil)
	} else if sv.anomaly != nil {
		sv.anomaly.ClearOngoingDetectionTime()
		sv.anomaly.ResetUnfixableGoals()
		sv.anomaly.MarkSelfHealingFinished(req.UUID)
	}
}

// --- predicates (spec.md §4.9, §4.10) ---

func partitionVanished(task *Task, snapshot contracts.ClusterSnapshot) bool {
	ps, ok := snapshot.Partitions[task.partitionKey()]
	return !ok || !ps.Exists
}

func taskDone(task *Task, snapshot contracts.ClusterSnapshot, logDirs []contracts.LogDirInfo) bool {
	ps, ok := snapshot.Partitions[task.partitionKey()]
	if !ok {
		return false
	}
	switch task.Type {
	case InterBrokerReplica:
		if !sameReplicaSet(ps.Replicas, task.Proposal.TargetReplicas) {
			return false
		}
		removed := task.Proposal.sourceBrokers()
		for _, r := range ps.ISR {
			for _, rem := range removed {
				if r == rem {
					return false
				}
			}
		}
		return true

	case IntraBrokerReplica:
		for _, d := range logDirs {
			if d.BrokerID != task.BrokerID {
				continue
			}
			r, ok := d.Replicas[task.partitionKey()]
			if !ok {
				return false
			}
			return r.CurrentDir == task.Proposal.TargetLogDirs[task.BrokerID] && r.FutureDir == ""
		}
		return false

	case Leader:
		return ps.Leader == task.Proposal.TargetReplicas[0]
	}
	return false
}

// taskDead implements the per-type dead conditions of spec.md §4.10,
// including probing the submission future's error class for inter-broker
// moves (§4.6's futureErrorVerificationTimeout suspension point).
func (sv *Supervisor) taskDead(
	ctx context.Context,
	task *Task,
	snapshot contracts.ClusterSnapshot,
	logDirs []contracts.LogDirInfo,
	cfg Config,
	nowMs int64,
) bool {
	switch task.Type {
	case Leader:
		if !snapshot.IsLive(task.Proposal.TargetReplicas[0]) {
			return true
		}
		return nowMs-task.StartTimeMs() > int64(cfg.LeaderMovementTimeoutMs)

	case InterBrokerReplica:
		for _, b := range task.Proposal.destBrokers() {
			if !snapshot.IsLive(b) {
				return true
			}
		}
		if sv.probeFutureInvalid(ctx, task, cfg) {
			return true
		}
		return false

	case IntraBrokerReplica:
		for _, d := range logDirs {
			if d.BrokerID != task.BrokerID {
				continue
			}
			if _, ok := d.Replicas[task.partitionKey()]; !ok {
				return true
			}
		}
		return false
	}
	return false
}

// probeFutureInvalid checks, at most once per task, whether the cluster
// classified the submission as an invalid replica assignment. The probe
// itself is bounded by FutureErrorVerificationTimeoutMs so a future that
// never resolves cannot stall the poll loop.
func (sv *Supervisor) probeFutureInvalid(ctx context.Context, task *Task, cfg Config) bool {
	key := task.partitionKey()

	sv.futuresMu.Lock()
	future, hasFuture := sv.futures[key]
	alreadyProbed := sv.probedFutures[key]
	sv.futuresMu.Unlock()

	if !hasFuture || alreadyProbed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.FutureErrorVerificationTimeoutMs)*time.Millisecond)
	defer cancel()

	submissionErr, err := future.Wait(probeCtx)

	sv.futuresMu.Lock()
	sv.probedFutures[key] = true
	sv.futuresMu.Unlock()

	if err != nil {
		return false
	}
	return submissionErr != nil && submissionErr.Class == contracts.ErrClassInvalidReplicaAssignment
}

func sameReplicaSet(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int32]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		seen[x]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func toReassignmentTasks(tasks []*Task) []contracts.ReassignmentTask {
	out := make([]contracts.ReassignmentTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, contracts.ReassignmentTask{
			Partition:      t.partitionKey(),
			TargetReplicas: t.Proposal.TargetReplicas,
		})
	}
	return out
}

func toLeaderTasks(tasks []*Task) []contracts.LeaderTask {
	out := make([]contracts.LeaderTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, contracts.LeaderTask{
			Partition:    t.partitionKey(),
			TargetLeader: t.Proposal.TargetReplicas[0],
		})
	}
	return out
}

func partitionsOf(tasks []*Task) []contracts.PartitionID {
	out := make([]contracts.PartitionID, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.partitionKey())
	}
	return out
}
