package executor

import (
	"sort"

	"github.com/cluster-rebalance/executor/pkg/contracts"
)

// OrderingStrategy produces a deterministic emission order for a batch of
// pending tasks (spec.md §4.2: "tie-breaks must be deterministic"). snapshot
// is the most recent cluster metadata, used to prioritize partitions that
// have dead or offline replicas.
type OrderingStrategy func(tasks []*Task, snapshot contracts.ClusterSnapshot) []*Task

// DefaultOrdering prioritizes partitions with a dead/offline replica, then
// larger estimated data size, then ascending topic name and partition index — the ordering
// spec.md §4.2 names explicitly.
func DefaultOrdering(tasks []*Task, snapshot contracts.ClusterSnapshot) []*Task {
	ordered := append([]*Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]

		aDead := hasDeadReplica(a, snapshot)
		bDead := hasDeadReplica(b, snapshot)
		if aDead != bDead {
			return aDead
		}

		if a.Proposal.DataSizeMB != b.Proposal.DataSizeMB {
			return a.Proposal.DataSizeMB > b.Proposal.DataSizeMB
		}

		ap, bp := a.partitionKey(), b.partitionKey()
		if ap.Topic != bp.Topic {
			return ap.Topic < bp.Topic
		}
		return ap.PartitionIndex < bp.PartitionIndex
	})
	return ordered
}

// hasDeadReplica reports whether any of the task's current or target
// replicas is not a live broker.
func hasDeadReplica(t *Task, snapshot contracts.ClusterSnapshot) bool {
	for _, b := range t.Proposal.CurrentReplicas {
		if !snapshot.IsLive(b) {
			return true
		}
	}
	for _, b := range t.Proposal.TargetReplicas {
		if !snapshot.IsLive(b) {
			return true
		}
	}
	return false
}
