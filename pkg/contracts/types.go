// Package contracts defines the external collaborators the execution
// controller depends on but does not own: the cluster admin API, the
// metadata client, the coordination store, the load monitor, the throttle
// helper, the notifier, and the anomaly/user-task managers. Every type in
// this package describes data crossing one of those boundaries; none of it
// is mutated by pkg/executor.
package contracts

import (
	"strconv"
	"time"
)

// PartitionID identifies one partition of one topic.
type PartitionID struct {
	Topic          string
	PartitionIndex int32
}

// String renders the partition as "topic-index" for logging.
func (p PartitionID) String() string {
	return p.Topic + "-" + strconv.FormatInt(int64(p.PartitionIndex), 10)
}

// ReplicaAssignment is the future-directory entry sarama/Kafka exposes for a
// replica that is in the middle of an intra-broker directory move.
type ReplicaAssignment struct {
	BrokerID   int32
	CurrentDir string
	FutureDir  string // empty if no move is pending
}

// LogDirInfo is per-broker replica-to-directory state, as reported by
// DescribeLogDirs.
type LogDirInfo struct {
	BrokerID int32
	Replicas map[PartitionID]ReplicaAssignment
}

// PartitionState is one partition's view of the cluster, as reported by the
// metadata client.
type PartitionState struct {
	ID       PartitionID
	Replicas []int32 // ordered, first is current leader
	ISR      []int32
	Leader   int32
	Exists   bool // false if the topic/partition has been deleted
}

// ClusterSnapshot is a point-in-time view of cluster metadata.
type ClusterSnapshot struct {
	FetchedAt  time.Time
	LiveNodes  map[int32]bool
	Partitions map[PartitionID]PartitionState
}

// IsLive reports whether brokerID is currently a live cluster member.
func (c ClusterSnapshot) IsLive(brokerID int32) bool {
	return c.LiveNodes[brokerID]
}

// ReassignmentTask is what the controller submits for an inter-broker
// replica move: the partition and its desired replica set.
type ReassignmentTask struct {
	Partition      PartitionID
	TargetReplicas []int32 // ordered, first is target preferred leader
}

// DirMoveTask is what the controller submits for an intra-broker directory
// move: the partition, the broker it moves on, and the destination
// directory.
type DirMoveTask struct {
	Partition PartitionID
	BrokerID  int32
	TargetDir string
}

// LeaderTask is what the controller submits for a preferred-leader
// election: the partition and the broker that should become leader.
type LeaderTask struct {
	Partition    PartitionID
	TargetLeader int32
}

// SubmissionError classifies an error returned when probing a submitted
// reassignment's outcome.
type SubmissionError struct {
	Partition PartitionID
	Class     ErrorClass
	Cause     error
}

func (e *SubmissionError) Error() string {
	if e.Cause == nil {
		return string(e.Class)
	}
	return string(e.Class) + ": " + e.Cause.Error()
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// ErrorClass enumerates the submission-error classes the Supervisor Loop
// cares about (spec.md §4.10).
type ErrorClass string

const (
	ErrClassInvalidReplicaAssignment ErrorClass = "INVALID_REPLICA_ASSIGNMENT"
	ErrClassOther                    ErrorClass = "OTHER"
)

// SamplingMode controls what the load monitor samples.
type SamplingMode int

const (
	SamplingAll SamplingMode = iota
	SamplingBrokerMetricsOnly
)

// BrokerMetricValues is a broker's current values for whatever metrics the
// concurrency adjuster watches (CPU, request-queue time, bytes-in-rate,
// ...). Keys are operator-defined metric names so that the set of watched
// metrics is configuration, not code.
type BrokerMetricValues map[string]float64
