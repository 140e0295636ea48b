package contracts

import (
	"context"
	"time"
)

// AdminAPI is the cluster admin surface the Supervisor Loop drives
// reassignments through. Implementations must be safe for concurrent use.
type AdminAPI interface {
	// SubmitReplicaReassignments submits one future per partition. The
	// returned map always has one entry per task, even on partial failure.
	SubmitReplicaReassignments(ctx context.Context, tasks []ReassignmentTask) (map[PartitionID]*ReassignmentFuture, error)

	// ListOngoingReassignments returns the partitions the cluster believes
	// are currently being reassigned.
	ListOngoingReassignments(ctx context.Context) (map[PartitionID]bool, error)

	// DescribeLogDirs returns per-replica directory state for the given
	// brokers.
	DescribeLogDirs(ctx context.Context, brokerIDs []int32) ([]LogDirInfo, error)

	// CancelReassignments submits a reassignment back to the current
	// replica set, reverting an in-flight inter-broker move.
	CancelReassignments(ctx context.Context, tasks []ReassignmentTask) error
}

// ReassignmentFuture represents one partition's in-flight reassignment
// submission. Wait blocks (bounded by ctx) until the cluster has classified
// the submission, or returns ctx.Err().
type ReassignmentFuture interface {
	Wait(ctx context.Context) (*SubmissionError, error)
}

// MetadataClient refreshes the controller's view of cluster topology.
type MetadataClient interface {
	Refresh(ctx context.Context) (ClusterSnapshot, error)
}

// CoordinationStore is the cluster's leader-election / reassignment
// coordination layer (e.g. a metadata quorum or coordination service).
type CoordinationStore interface {
	ListOngoingPreferredLeaderElections(ctx context.Context) (map[PartitionID]bool, error)
	TriggerPreferredLeaderElection(ctx context.Context, tasks []LeaderTask) error

	// DeleteReassignmentMarkers forces the cluster controller to abandon
	// in-flight reassignments. Used only on forced stop.
	DeleteReassignmentMarkers(ctx context.Context) error
}

// LoadMonitor exposes live per-broker metrics and controls sampling mode.
type LoadMonitor interface {
	CurrentBrokerMetricValues(ctx context.Context) (map[int32]BrokerMetricValues, error)
	SetSamplingMode(ctx context.Context, mode SamplingMode) error
	PauseSampling(ctx context.Context, reason string, force bool) error
	ResumeSampling(ctx context.Context, reason string) error
}

// ThrottleHelper sets/clears per-topic replication bandwidth caps around
// inter-broker moves.
type ThrottleHelper interface {
	SetThrottles(ctx context.Context, tasks []ReassignmentTask) error
	ClearThrottles(ctx context.Context, completed, stillInProgress []PartitionID) error
}

// Notifier delivers human-facing messages.
type Notifier interface {
	SendNotification(msg string)
	SendAlert(msg string)
}

// AnomalyDetector is notified about self-healing executions.
type AnomalyDetector interface {
	ClearOngoingDetectionTime()
	ResetUnfixableGoals()
	MarkSelfHealingFinished(uuid string)
}

// UserTaskManager is notified about user-triggered executions. A nil
// UserTaskManager is valid: user-triggered-task tracking is optional.
type UserTaskManager interface {
	MarkBegan(uuid string)
	MarkFinished(uuid string, erroredOrStopped bool)
}

// Clock abstracts time for deterministic tests; production code uses
// RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock with the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
