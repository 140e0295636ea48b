package executor

import (
	"sort"

	"github.com/cluster-rebalance/executor/pkg/contracts"
)

// Proposal is the caller-supplied, immutable description of one partition's
// desired placement. Proposals are produced by an external optimizer this
// repo does not own (spec.md §1).
type Proposal struct {
	Partition contracts.PartitionID

	// CurrentReplicas is ordered; the first entry is the current leader.
	CurrentReplicas []int32

	// TargetReplicas is ordered; the first entry is the target preferred
	// leader.
	TargetReplicas []int32

	// TargetLogDirs maps a broker ID (that will host a replica of this
	// partition, under either the current or target replica set) to the
	// log directory it should move to. Brokers absent from the map keep
	// whatever directory they currently use.
	TargetLogDirs map[int32]string

	// DataSizeMB estimates the partition's on-disk size, used for emission
	// ordering.
	DataSizeMB float64
}

// sourceBrokers returns replicas present in Current but absent from Target.
func (p Proposal) sourceBrokers() []int32 {
	return subtractInt32(p.CurrentReplicas, p.TargetReplicas)
}

// destBrokers returns replicas present in Target but absent from Current.
func (p Proposal) destBrokers() []int32 {
	return subtractInt32(p.TargetReplicas, p.CurrentReplicas)
}

// needsInterBrokerMove reports whether any replica is added or removed
// across brokers.
func (p Proposal) needsInterBrokerMove() bool {
	return len(p.sourceBrokers()) > 0 || len(p.destBrokers()) > 0
}

// needsLeaderMove reports whether the proposal changes only leadership:
// replica sets hold the same brokers (order may differ) but the first
// entry, the leader, differs.
func (p Proposal) needsLeaderMove() bool {
	if p.needsInterBrokerMove() {
		return false
	}
	if len(p.CurrentReplicas) == 0 || len(p.TargetReplicas) == 0 {
		return false
	}
	return p.CurrentReplicas[0] != p.TargetReplicas[0]
}

// dirMoveBrokers returns the brokers (in deterministic ascending order)
// whose log directory this proposal changes.
func (p Proposal) dirMoveBrokers() []int32 {
	brokers := make([]int32, 0, len(p.TargetLogDirs))
	for b := range p.TargetLogDirs {
		brokers = append(brokers, b)
	}
	sort.Slice(brokers, func(i, j int) bool { return brokers[i] < brokers[j] })
	return brokers
}

func subtractInt32(a, b []int32) []int32 {
	inB := make(map[int32]bool, len(b))
	for _, x := range b {
		inB[x] = true
	}
	out := make([]int32, 0)
	for _, x := range a {
		if !inB[x] {
			out = append(out, x)
		}
	}
	return out
}
