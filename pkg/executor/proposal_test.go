package executor

import (
	"testing"

	"github.com/cluster-rebalance/executor/pkg/contracts"
	"github.com/stretchr/testify/assert"
)

func TestProposal_NeedsInterBrokerMove(t *testing.T) {
	p := Proposal{CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 4}}
	assert.True(t, p.needsInterBrokerMove())
	assert.False(t, p.needsLeaderMove())
	assert.ElementsMatch(t, []int32{3}, p.sourceBrokers())
	assert.ElementsMatch(t, []int32{4}, p.destBrokers())
}

func TestProposal_NeedsLeaderMoveOnly(t *testing.T) {
	p := Proposal{CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{2, 1, 3}}
	assert.False(t, p.needsInterBrokerMove())
	assert.True(t, p.needsLeaderMove())
}

func TestProposal_NoChangeNeedsNothing(t *testing.T) {
	p := Proposal{CurrentReplicas: []int32{1, 2, 3}, TargetReplicas: []int32{1, 2, 3}}
	assert.False(t, p.needsInterBrokerMove())
	assert.False(t, p.needsLeaderMove())
}

func TestProposal_DirMoveBrokersSortedAscending(t *testing.T) {
	p := Proposal{
		Partition:     contracts.PartitionID{Topic: "t", PartitionIndex: 0},
		TargetLogDirs: map[int32]string{3: "/d3", 1: "/d1", 2: "/d2"},
	}
	assert.Equal(t, []int32{1, 2, 3}, p.dirMoveBrokers())
}
