package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cluster-rebalance/executor/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- fakes ---

type fakeSession struct {
	mu                 sync.Mutex
	snap               Snapshot
	stop               StopSignal
	stoppedByUser      bool
	skipAuto           bool
	progressIntervalMs int
	overridden         bool
	resetCalls         int
}

// newFakeSession returns a session with a 1ms poll interval, marked as an
// operator override so tests run at speed regardless of what the fake
// Config's own (much larger) interval says.
func newFakeSession() *fakeSession {
	return &fakeSession{snap: emptySnapshot(), progressIntervalMs: 1, overridden: true}
}

func (f *fakeSession) Snapshot() Snapshot { f.mu.Lock(); defer f.mu.Unlock(); return f.snap }
func (f *fakeSession) PublishSnapshot(s Snapshot) { f.mu.Lock(); defer f.mu.Unlock(); f.snap = s }
func (f *fakeSession) StopSignal() StopSignal { f.mu.Lock(); defer f.mu.Unlock(); return f.stop }
func (f *fakeSession) RequestStop(force bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := StopGraceful
	if force {
		want = StopForced
	}
	if f.stop >= want {
		return false
	}
	f.stop = want
	return true
}
func (f *fakeSession) ProgressIntervalMs() int { f.mu.Lock(); defer f.mu.Unlock(); return f.progressIntervalMs }
func (f *fakeSession) ProgressIntervalOverridden() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.overridden }
func (f *fakeSession) SkipAutoConcurrency() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.skipAuto }
func (f *fakeSession) SetSkipAutoConcurrency(v bool) { f.mu.Lock(); defer f.mu.Unlock(); f.skipAuto = v }
func (f *fakeSession) wasStoppedByUser() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.stoppedByUser }
func (f *fakeSession) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	f.stop = StopNone
	f.stoppedByUser = false
}

type fakeAdmin struct {
	mu sync.Mutex

	ongoing   map[contracts.PartitionID]bool
	logDirs   []contracts.LogDirInfo
	cancelled []contracts.ReassignmentTask
	submitted []contracts.ReassignmentTask
	submitErr error
	// cancelKeepsOngoing, if set, leaves cancelled partitions in ongoing so
	// a test can decide when the cluster clears them.
	cancelKeepsOngoing bool
}

func (f *fakeAdmin) SubmitReplicaReassignments(ctx context.Context, tasks []contracts.ReassignmentTask) (map[contracts.PartitionID]*contracts.ReassignmentFuture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, tasks...)
	out := make(map[contracts.PartitionID]*contracts.ReassignmentFuture, len(tasks))
	for _, t := range tasks {
		var fut contracts.ReassignmentFuture = noopFuture{}
		out[t.Partition] = &fut
	}
	return out, f.submitErr
}
func (f *fakeAdmin) ListOngoingReassignments(ctx context.Context) (map[contracts.PartitionID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[contracts.PartitionID]bool, len(f.ongoing))
	for k, v := range f.ongoing {
		out[k] = v
	}
	return out, nil
}
func (f *fakeAdmin) DescribeLogDirs(ctx context.Context, brokerIDs []int32) ([]contracts.LogDirInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logDirs, nil
}
func (f *fakeAdmin) CancelReassignments(ctx context.Context, tasks []contracts.ReassignmentTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, tasks...)
	delete_ := make(map[contracts.PartitionID]bool)
	for _, t := range tasks {
		delete_[t.Partition] = true
	}
	if !f.cancelKeepsOngoing {
		for p := range delete_ {
			delete(f.ongoing, p)
		}
	}
	return nil
}

type noopFuture struct{}

func (noopFuture) Wait(ctx context.Context) (*contracts.SubmissionError, error) { return nil, nil }

type fakeMetadata struct {
	mu       sync.Mutex
	snapshot contracts.ClusterSnapshot
	// coord, if set, mirrors kafkaadmin.Client.Refresh's own coupling: a
	// refresh prunes any pending election whose target leader is now
	// reflected in the snapshot.
	coord *fakeCoord

	refreshCalls int
	// flipAfterCalls, if > 0, swaps snapshot to flipSnapshot once
	// refreshCalls reaches it -- used to simulate the cluster landing an
	// election (or a replica move) a fixed number of polls after it starts.
	flipAfterCalls int
	flipSnapshot   contracts.ClusterSnapshot
}

func (f *fakeMetadata) Refresh(ctx context.Context) (contracts.ClusterSnapshot, error) {
	f.mu.Lock()
	f.refreshCalls++
	if f.flipAfterCalls > 0 && f.refreshCalls >= f.flipAfterCalls {
		f.snapshot = f.flipSnapshot
	}
	snap := f.snapshot
	f.mu.Unlock()
	if f.coord != nil {
		f.coord.clearCompleted(snap)
	}
	return snap, nil
}

func (f *fakeMetadata) setSnapshot(snap contracts.ClusterSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap
}

type fakeCoord struct {
	mu                  sync.Mutex
	elections           map[contracts.PartitionID]bool
	electionTargets     map[contracts.PartitionID]int32
	deleteMarkersCalled int
}

func (f *fakeCoord) ListOngoingPreferredLeaderElections(ctx context.Context) (map[contracts.PartitionID]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[contracts.PartitionID]bool, len(f.elections))
	for k, v := range f.elections {
		out[k] = v
	}
	return out, nil
}

// TriggerPreferredLeaderElection mirrors kafkaadmin.Client's behavior: it
// records the target leader for each partition so a later clearCompleted
// (driven by a metadata refresh) can detect the election has landed.
func (f *fakeCoord) TriggerPreferredLeaderElection(ctx context.Context, tasks []contracts.LeaderTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.elections == nil {
		f.elections = make(map[contracts.PartitionID]bool)
	}
	if f.electionTargets == nil {
		f.electionTargets = make(map[contracts.PartitionID]int32)
	}
	for _, t := range tasks {
		f.elections[t.Partition] = true
		f.electionTargets[t.Partition] = t.TargetLeader
	}
	return nil
}

// clearCompleted prunes any pending election whose target leader is now
// reflected in snapshot, mirroring kafkaadmin.Client.Refresh's own pruning
// of its pendingElections map.
func (f *fakeCoord) clearCompleted(snapshot contracts.ClusterSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for pid, target := range f.electionTargets {
		if ps, ok := snapshot.Partitions[pid]; ok && ps.Leader == target {
			delete(f.elections, pid)
			delete(f.electionTargets, pid)
		}
	}
}

func (f *fakeCoord) DeleteReassignmentMarkers(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteMarkersCalled++
	return nil
}

type fakeLoadMonitorForSupervisor struct{}

func (fakeLoadMonitorForSupervisor) CurrentBrokerMetricValues(ctx context.Context) (map[int32]contracts.BrokerMetricValues, error) {
	return nil, nil
}
func (fakeLoadMonitorForSupervisor) SetSamplingMode(ctx context.Context, mode contracts.SamplingMode) error {
	return nil
}
func (fakeLoadMonitorForSupervisor) PauseSampling(ctx context.Context, reason string, force bool) error {
	return nil
}
func (fakeLoadMonitorForSupervisor) ResumeSampling(ctx context.Context, reason string) error { return nil }

type fakeThrottle struct{}

func (fakeThrottle) SetThrottles(ctx context.Context, tasks []contracts.ReassignmentTask) error {
	return nil
}
func (fakeThrottle) ClearThrottles(ctx context.Context, completed, stillInProgress []contracts.PartitionID) error {
	return nil
}

func testPartition(idx int32) contracts.PartitionID {
	return contracts.PartitionID{Topic: "t", PartitionIndex: idx}
}

func newTestSupervisor(t *testing.T, admin *fakeAdmin, metadata *fakeMetadata, coord *fakeCoord, session *fakeSession) *Supervisor {
	t.Helper()
	tracker := NewTracker(zap.NewNop(), 5, 5, 5)
	cfg := DefaultConfig()
	return NewSupervisor(
		zap.NewNop(), tracker, NewHistory(zap.NewNop(), "demotion", time.Hour), NewHistory(zap.NewNop(), "removal", time.Hour),
		admin, metadata, coord, fakeLoadMonitorForSupervisor{}, fakeThrottle{}, nil, nil, nil,
		session, nil, func() Config { return cfg }, DefaultOrdering, nil,
	)
}

// --- Preflight ---

func TestPreflight_RejectsWhenReassignmentOngoing(t *testing.T) {
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{testPartition(0): true}}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{}}
	sv := newTestSupervisor(t, admin, &fakeMetadata{}, coord, newFakeSession())

	err := sv.Preflight(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOngoingExecution))
}

func TestPreflight_RejectsWhenFutureDirMovePending(t *testing.T) {
	admin := &fakeAdmin{
		ongoing: map[contracts.PartitionID]bool{},
		logDirs: []contracts.LogDirInfo{{BrokerID: 1, Replicas: map[contracts.PartitionID]contracts.ReplicaAssignment{
			testPartition(0): {BrokerID: 1, CurrentDir: "/a", FutureDir: "/b"},
		}}},
	}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{}}
	sv := newTestSupervisor(t, admin, &fakeMetadata{}, coord, newFakeSession())

	err := sv.Preflight(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOngoingExecution))
}

func TestPreflight_RejectsWhenElectionOngoing(t *testing.T) {
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{testPartition(0): true}}
	sv := newTestSupervisor(t, admin, &fakeMetadata{}, coord, newFakeSession())

	err := sv.Preflight(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindOngoingExecution))
}

func TestPreflight_PassesWhenClusterQuiescent(t *testing.T) {
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{}}
	sv := newTestSupervisor(t, admin, &fakeMetadata{}, coord, newFakeSession())

	assert.NoError(t, sv.Preflight(context.Background()))
}

// --- pollOnce predicates ---

func TestPollOnce_MarksCompletedWhenReplicaSetAndISRMatch(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	snapshot := contracts.ClusterSnapshot{
		LiveNodes: map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{
			testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 4}, ISR: []int32{1, 2, 4}, Leader: 1, Exists: true},
		},
	}
	metadata := &fakeMetadata{snapshot: snapshot}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{}}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)
	batch := sv.tracker.NextInterBrokerBatch(DefaultOrdering, snapshot)
	require.Len(t, batch, 1)

	completed, aborted, dead := sv.pollOnce(context.Background(), InterBrokerReplica)
	assert.Len(t, completed, 1)
	assert.Empty(t, aborted)
	assert.Empty(t, dead)
}

func TestPollOnce_MarksAbortedWhenPartitionVanishes(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	liveSnapshot := contracts.ClusterSnapshot{
		LiveNodes: map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{
			testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 3}, Exists: true},
		},
	}
	metadata := &fakeMetadata{snapshot: liveSnapshot}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{}}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)
	sv.tracker.NextInterBrokerBatch(DefaultOrdering, liveSnapshot)

	metadata.snapshot = contracts.ClusterSnapshot{LiveNodes: map[int32]bool{1: true, 2: true, 4: true}, Partitions: map[contracts.PartitionID]contracts.PartitionState{}}

	_, aborted, _ := sv.pollOnce(context.Background(), InterBrokerReplica)
	assert.Len(t, aborted, 1)
}

func TestPollOnce_MarksDeadWhenDestBrokerDies(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	liveSnapshot := contracts.ClusterSnapshot{
		LiveNodes:  map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 3}, Exists: true}},
	}
	metadata := &fakeMetadata{snapshot: liveSnapshot}
	coord := &fakeCoord{elections: map[contracts.PartitionID]bool{}}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)
	sv.tracker.NextInterBrokerBatch(DefaultOrdering, liveSnapshot)

	deadSnapshot := liveSnapshot
	deadSnapshot.LiveNodes = map[int32]bool{1: true, 2: true, 4: false}
	metadata.snapshot = deadSnapshot

	_, _, dead := sv.pollOnce(context.Background(), InterBrokerReplica)
	assert.Len(t, dead, 1)
	assert.Len(t, admin.cancelled, 1, "a dead destination broker should trigger a rollback cancel")
}

// --- rollback semantics (spec.md §4.8) ---

func TestRollback_GracefulStopBlocksUntilClusterClears(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{testPartition(0): true}, cancelKeepsOngoing: true}
	coord := &fakeCoord{}
	sv := newTestSupervisor(t, admin, &fakeMetadata{}, coord, session)

	task := &Task{ExecutionID: 1, Type: InterBrokerReplica, Proposal: &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}}}

	done := make(chan struct{})
	go func() {
		sv.rollback(context.Background(), []*Task{task}, nil)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("rollback returned before the cluster cleared the cancelled partition")
	case <-time.After(50 * time.Millisecond):
	}

	admin.mu.Lock()
	delete(admin.ongoing, testPartition(0))
	admin.mu.Unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rollback did not return after the cluster cleared the cancelled partition")
	}
}

func TestRollback_DeadBrokerRollbackDoesNotBlock(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{testPartition(0): true}}
	coord := &fakeCoord{}
	sv := newTestSupervisor(t, admin, &fakeMetadata{}, coord, session)

	task := &Task{ExecutionID: 1, Type: InterBrokerReplica, Proposal: &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}}}

	done := make(chan struct{})
	go func() {
		sv.rollback(context.Background(), nil, []*Task{task})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rollback with a real dead-broker task must not block")
	}
	assert.Len(t, admin.cancelled, 1)
}

// --- self-triggered graceful stop (spec.md §4.8) ---

func TestPollOnce_SelfTriggersGracefulStopOnDeadBrokerTask(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	liveSnapshot := contracts.ClusterSnapshot{
		LiveNodes:  map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 3}, Exists: true}},
	}
	metadata := &fakeMetadata{snapshot: liveSnapshot}
	coord := &fakeCoord{}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)
	sv.tracker.NextInterBrokerBatch(DefaultOrdering, liveSnapshot)

	deadSnapshot := liveSnapshot
	deadSnapshot.LiveNodes = map[int32]bool{1: true, 2: true, 4: false}
	metadata.snapshot = deadSnapshot

	sv.pollOnce(context.Background(), InterBrokerReplica)

	assert.Equal(t, StopGraceful, session.StopSignal())
}

// --- forced stop excludes tasks from rollback (spec.md §4.6 scenario 4) ---

func TestPollOnce_ForcedStopExcludesTasksFromRollback(t *testing.T) {
	session := newFakeSession()
	session.stop = StopForced
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	liveSnapshot := contracts.ClusterSnapshot{
		LiveNodes:  map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 3}, Exists: true}},
	}
	metadata := &fakeMetadata{snapshot: liveSnapshot}
	coord := &fakeCoord{}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)

	// Move the task to IN_PROGRESS through the tracker's normal batch API.
	// The tracker never reads the stop signal; it is held at NONE here only
	// so the setup reads as happening before the forced stop lands.
	session.stop = StopNone
	sv.tracker.NextInterBrokerBatch(DefaultOrdering, liveSnapshot)
	session.stop = StopForced

	_, _, dead := sv.pollOnce(context.Background(), InterBrokerReplica)
	assert.Len(t, dead, 1)
	assert.Empty(t, admin.cancelled, "forced-stop kills must not individually roll back; DeleteReassignmentMarkers supersedes them")
}

// --- LEADER-phase busy-wait (spec.md §4.6, §4.7) ---

// TestRunOnePhase_LeaderBusyWaitClearsAfterElectionLands drives a real
// LEADER phase end-to-end: it submits one election, busy-waits while it's
// in flight, and must observe it clear once the cluster snapshot reflects
// the new leader. A busy-wait that skips metadata.Refresh can never observe
// the election clearing and would spin forever, so this test fails by
// timeout rather than by assertion if that regresses.
func TestRunOnePhase_LeaderBusyWaitClearsAfterElectionLands(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}

	pending := contracts.ClusterSnapshot{
		LiveNodes: map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{
			testPartition(0): {ID: testPartition(0), Replicas: []int32{4, 2, 1}, Leader: 1, Exists: true},
		},
	}
	landed := contracts.ClusterSnapshot{
		LiveNodes: map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{
			testPartition(0): {ID: testPartition(0), Replicas: []int32{4, 2, 1}, Leader: 4, Exists: true},
		},
	}

	coord := &fakeCoord{}
	metadata := &fakeMetadata{snapshot: pending, coord: coord, flipAfterCalls: 3, flipSnapshot: landed}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 4}, TargetReplicas: []int32{4, 2, 1}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)

	done := make(chan error, 1)
	go func() { done <- sv.runOnePhase(context.Background(), BatchRequest{}, Leader) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("LEADER phase never exited: the busy-wait likely skips metadata.Refresh and can never observe the election clearing")
	}

	completed, _, _ := sv.tracker.Finished(Leader)
	assert.Len(t, completed, 1)
}

// --- drainInProgressOfThisType (spec.md line 139) ---

// TestRunOnePhase_ForcedStopDrainsStrandedTaskToDead exercises a FORCED stop
// landing while a task is IN_PROGRESS: the loop breaks immediately, and
// without an unconditional drain pass afterward the task would stay
// IN_PROGRESS forever instead of being marked DEAD.
func TestRunOnePhase_ForcedStopDrainsStrandedTaskToDead(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{}}
	liveSnapshot := contracts.ClusterSnapshot{
		LiveNodes:  map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 3}, Exists: true}},
	}
	metadata := &fakeMetadata{snapshot: liveSnapshot}
	coord := &fakeCoord{}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)
	batch := sv.tracker.NextInterBrokerBatch(DefaultOrdering, liveSnapshot)
	require.Len(t, batch, 1)

	session.stop = StopForced

	require.NoError(t, sv.runOnePhase(context.Background(), BatchRequest{}, InterBrokerReplica))

	_, _, dead := sv.tracker.Finished(InterBrokerReplica)
	require.Len(t, dead, 1, "a FORCED stop must drain the stranded IN_PROGRESS task to DEAD, not leave it stuck")
	assert.Empty(t, sv.tracker.InProgress(InterBrokerReplica))
}

// TestRunOnePhase_GracefulStopDrainsAndRollsBackInterBrokerTask exercises a
// GRACEFUL stop landing on an INTER_BROKER phase: the loop breaks
// immediately, and the mandatory drain pass must still mark the task DEAD
// and trigger its rollback cancel (spec.md §4.8).
func TestRunOnePhase_GracefulStopDrainsAndRollsBackInterBrokerTask(t *testing.T) {
	session := newFakeSession()
	admin := &fakeAdmin{ongoing: map[contracts.PartitionID]bool{testPartition(0): true}}
	liveSnapshot := contracts.ClusterSnapshot{
		LiveNodes:  map[int32]bool{1: true, 2: true, 4: true},
		Partitions: map[contracts.PartitionID]contracts.PartitionState{testPartition(0): {ID: testPartition(0), Replicas: []int32{1, 2, 3}, Exists: true}},
	}
	metadata := &fakeMetadata{snapshot: liveSnapshot}
	coord := &fakeCoord{}
	sv := newTestSupervisor(t, admin, metadata, coord, session)

	p := &Proposal{Partition: testPartition(0), CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	sv.tracker.AddProposals([]*Proposal{p}, nil)
	batch := sv.tracker.NextInterBrokerBatch(DefaultOrdering, liveSnapshot)
	require.Len(t, batch, 1)

	session.stop = StopGraceful

	done := make(chan error, 1)
	go func() { done <- sv.runOnePhase(context.Background(), BatchRequest{}, InterBrokerReplica) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GRACEFUL stop on an INTER_BROKER phase never drained")
	}

	_, _, dead := sv.tracker.Finished(InterBrokerReplica)
	require.Len(t, dead, 1)
	assert.Len(t, admin.cancelled, 1, "the drained task must still be rolled back")
}
